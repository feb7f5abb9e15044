package config

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/platform"
)

// ParseError reports a configuration the user has to fix.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error, offending key)
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// Parser evaluates Lua configuration with platform detection.
type Parser struct {
	detector platform.Detector
}

// NewParser creates a parser. A nil detector leaves "platform" undefined.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector}
}

// ParseFile parses the config at path.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "read config"), "path", path)
	}
	s, err := p.ParseString(ctx, string(data))
	if err != nil {
		return nil, zerr.With(err, "path", path)
	}
	return s, nil
}

// ParseString parses Lua config source. Keys the file does not set keep
// their defaults.
func (p *Parser) ParseString(ctx context.Context, code string) (*Settings, error) {
	L := newSandboxedVM(ctx)
	defer L.Close()

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, zerr.Wrap(err, "platform detection failed")
		}
		platform.InjectLuaTable(L, info)
	}

	if err := L.DoString(code); err != nil {
		if ctx.Err() != nil {
			return nil, zerr.Wrap(ctx.Err(), "evaluate config")
		}
		return nil, &ParseError{Message: "Lua error", Detail: err.Error()}
	}

	s := Defaults()
	if err := extract(L, s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, &ParseError{Message: "invalid config", Detail: err.Error()}
	}
	return s, nil
}

func extract(L *lua.LState, s *Settings) error {
	root, ok := L.GetGlobal("armtc").(*lua.LTable)
	if !ok {
		return &ParseError{
			Message: "missing or invalid 'armtc' table",
			Detail:  fmt.Sprintf("expected table, got %s", L.GetGlobal("armtc").Type()),
		}
	}

	return walk(root, "armtc", map[string]func(lua.LValue) error{
		"index": tableField("armtc.index", map[string]func(lua.LValue) error{
			"source":     stringField("armtc.index.source", &s.Index.Source),
			"url":        stringField("armtc.index.url", &s.Index.URL),
			"repo":       stringField("armtc.index.repo", &s.Index.Repo),
			"tag_prefix": stringField("armtc.index.tag_prefix", &s.Index.TagPrefix),
			"tag_suffix": stringField("armtc.index.tag_suffix", &s.Index.TagSuffix),
			"token":      stringField("armtc.index.token", &s.Index.Token),
		}),
		"http": tableField("armtc.http", map[string]func(lua.LValue) error{
			"timeout":    secondsField("armtc.http.timeout", &s.HTTP.Timeout),
			"user_agent": stringField("armtc.http.user_agent", &s.HTTP.UserAgent),
		}),
		"verify": tableField("armtc.verify", map[string]func(lua.LValue) error{
			"keyring":           stringField("armtc.verify.keyring", &s.Verify.Keyring),
			"require_signature": boolField("armtc.verify.require_signature", &s.Verify.RequireSignature),
		}),
		"env": func(v lua.LValue) error {
			t, ok := v.(*lua.LTable)
			if !ok {
				return typeError("armtc.env", "table", v)
			}
			// An env table replaces the defaults entirely so users can drop them.
			s.Env = map[string]string{}
			var err error
			t.ForEach(func(k, val lua.LValue) {
				if err != nil {
					return
				}
				key, ok := k.(lua.LString)
				if !ok {
					err = &ParseError{Message: "armtc.env keys must be strings", Detail: k.String()}
					return
				}
				switch val.Type() {
				case lua.LTString, lua.LTNumber:
					s.Env[string(key)] = val.String()
				case lua.LTBool:
					if val == lua.LTrue {
						s.Env[string(key)] = "1"
					} else {
						s.Env[string(key)] = "0"
					}
				default:
					err = typeError("armtc.env."+string(key), "string", val)
				}
			})
			return err
		},
	})
}

// walk applies fields to the entries of t and rejects unknown keys, which
// are almost always typos.
func walk(t *lua.LTable, path string, fields map[string]func(lua.LValue) error) error {
	var err error
	t.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		name, ok := k.(lua.LString)
		if !ok {
			err = &ParseError{Message: "unexpected non-string key", Detail: fmt.Sprintf("%s[%s]", path, k.String())}
			return
		}
		apply, ok := fields[string(name)]
		if !ok {
			err = &ParseError{Message: "unknown config key", Detail: path + "." + string(name)}
			return
		}
		err = apply(v)
	})
	return err
}

func tableField(path string, fields map[string]func(lua.LValue) error) func(lua.LValue) error {
	return func(v lua.LValue) error {
		t, ok := v.(*lua.LTable)
		if !ok {
			return typeError(path, "table", v)
		}
		return walk(t, path, fields)
	}
}

func stringField(path string, dst *string) func(lua.LValue) error {
	return func(v lua.LValue) error {
		s, ok := v.(lua.LString)
		if !ok {
			return typeError(path, "string", v)
		}
		*dst = string(s)
		return nil
	}
}

func boolField(path string, dst *bool) func(lua.LValue) error {
	return func(v lua.LValue) error {
		b, ok := v.(lua.LBool)
		if !ok {
			return typeError(path, "boolean", v)
		}
		*dst = bool(b)
		return nil
	}
}

// secondsField accepts a number of seconds or a Go duration string.
func secondsField(path string, dst *time.Duration) func(lua.LValue) error {
	return func(v lua.LValue) error {
		switch val := v.(type) {
		case lua.LNumber:
			f := float64(val)
			if f < 0 || math.IsNaN(f) || f > math.MaxInt64/float64(time.Second) {
				return &ParseError{Message: "out of range", Detail: path}
			}
			*dst = time.Duration(f * float64(time.Second))
			return nil
		case lua.LString:
			d, err := time.ParseDuration(string(val))
			if err != nil {
				return &ParseError{Message: "invalid duration", Detail: fmt.Sprintf("%s: %v", path, err)}
			}
			*dst = d
			return nil
		default:
			return typeError(path, "number or duration string", v)
		}
	}
}

func typeError(path, want string, got lua.LValue) error {
	return &ParseError{
		Message: "wrong type",
		Detail:  fmt.Sprintf("%s: expected %s, got %s", path, want, got.Type()),
	}
}
