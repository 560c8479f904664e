package apitool

import (
	"net/http"
	"strings"

	"mcphub/internal/config"
	"mcphub/internal/errdefs"
	"mcphub/internal/template"
)

// DefaultAPIKeyHeader is used when an apikey scheme names no header.
const DefaultAPIKeyHeader = "X-API-Key"

// Strategy applies one authentication scheme to an outbound request.
// Implementations only add headers derived from their configuration and the
// process environment; the request is otherwise untouched.
type Strategy interface {
	// Apply sets the scheme's credentials on req. Template tokens in the
	// credentials resolve against the environment at call time.
	Apply(req *http.Request) error

	// RequiredEnv returns the environment variables the credentials
	// reference, for load-time validation.
	RequiredEnv() []string
}

// NewStrategy builds the strategy for an authentication config. A nil or
// empty config passes requests through unchanged.
func NewStrategy(spec *config.AuthSpec, engine *template.Engine) (Strategy, error) {
	if spec == nil {
		return noneStrategy{}, nil
	}

	switch strings.ToLower(spec.Type) {
	case "", "none":
		return noneStrategy{}, nil

	case "bearer":
		if spec.Token == "" {
			return nil, invalidAuth("bearer authentication requires a token")
		}
		return &bearerStrategy{engine: engine, token: spec.Token}, nil

	case "apikey":
		if spec.Token == "" {
			return nil, invalidAuth("apikey authentication requires a token")
		}
		header := spec.Header
		if header == "" {
			header = DefaultAPIKeyHeader
		}
		return &apiKeyStrategy{engine: engine, header: header, token: spec.Token}, nil

	case "basic":
		if spec.Username == "" || spec.Password == "" {
			return nil, invalidAuth("basic authentication requires username and password")
		}
		return &basicStrategy{engine: engine, username: spec.Username, password: spec.Password}, nil

	default:
		return nil, errdefs.New(errdefs.CodeInvalidAuthConfig, errdefs.SeverityMedium, "invalid authentication").
			WithDetails("unknown authentication type %q", spec.Type)
	}
}

func invalidAuth(detail string) error {
	return errdefs.New(errdefs.CodeInvalidAuthConfig, errdefs.SeverityMedium, "invalid authentication").
		WithDetails("%s", detail)
}

type noneStrategy struct{}

func (noneStrategy) Apply(*http.Request) error { return nil }
func (noneStrategy) RequiredEnv() []string     { return nil }

type bearerStrategy struct {
	engine *template.Engine
	token  string
}

func (s *bearerStrategy) Apply(req *http.Request) error {
	token, err := s.engine.ResolveToString(s.token, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (s *bearerStrategy) RequiredEnv() []string {
	return s.engine.ReferencedEnv(s.token)
}

type apiKeyStrategy struct {
	engine *template.Engine
	header string
	token  string
}

func (s *apiKeyStrategy) Apply(req *http.Request) error {
	token, err := s.engine.ResolveToString(s.token, nil)
	if err != nil {
		return err
	}
	req.Header.Set(s.header, token)
	return nil
}

func (s *apiKeyStrategy) RequiredEnv() []string {
	return s.engine.ReferencedEnv(s.token)
}

type basicStrategy struct {
	engine   *template.Engine
	username string
	password string
}

func (s *basicStrategy) Apply(req *http.Request) error {
	user, err := s.engine.ResolveToString(s.username, nil)
	if err != nil {
		return err
	}
	pass, err := s.engine.ResolveToString(s.password, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(user, pass)
	return nil
}

func (s *basicStrategy) RequiredEnv() []string {
	return s.engine.ReferencedEnv([]interface{}{s.username, s.password})
}
