package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultFileNames are searched, in order, by Find.
var DefaultFileNames = []string{".lintls.toml", ".lintls.yaml", ".lintls.yml", ".lintls.json"}

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "LINTLS_"

// Load builds settings from the defaults, the file at path (if path is not
// empty) and LINTLS_* environment variables, in increasing precedence. The
// result is not validated, since an editor may still supply the missing
// pieces.
func Load(path string) (*Settings, error) {
	layers := []map[string]any{}

	if path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		layers = append(layers, file)
	}

	env, err := NewEnvLoader(EnvPrefix).Load()
	if err != nil {
		return nil, err
	}
	layers = append(layers, env)

	return Defaults().Merge(layers...)
}

// Find returns the first default config file in dir, or "" if none exists.
func Find(dir string) string {
	for _, name := range DefaultFileNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// LoadFile parses a TOML, YAML or JSON file into a generic map.
func LoadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes data according to the extension of name.
func Parse(name string, data []byte) (map[string]any, error) {
	var (
		out map[string]any
		err error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		err = toml.Unmarshal(data, &out)
		if err != nil {
			return nil, tomlError(name, err)
		}
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &out)
		if err != nil {
			return nil, yamlError(name, err)
		}
	case ".json":
		err = json.Unmarshal(data, &out)
		if err != nil {
			return nil, &ParseError{Path: name, Message: err.Error(), Err: err}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func tomlError(path string, err error) error {
	perr := &ParseError{Path: path, Message: err.Error(), Err: err}
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		perr.Line, perr.Column = derr.Position()
	}
	return perr
}

var yamlLine = regexp.MustCompile(`line (\d+)`)

func yamlError(path string, err error) error {
	perr := &ParseError{Path: path, Message: err.Error(), Err: err}
	if m := yamlLine.FindStringSubmatch(err.Error()); m != nil {
		perr.Line, _ = strconv.Atoi(m[1])
	}
	return perr
}

// Merge layers overrides on top of s and returns the result. Maps merge key
// by key; any other value replaces the one below it. The result is not
// validated.
func (s *Settings) Merge(overrides ...map[string]any) (*Settings, error) {
	base, err := toMap(s)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if o == nil {
			continue
		}
		mergeMaps(base, normalize(o).(map[string]any))
	}

	data, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	out := &Settings{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}

func toMap(s *Settings) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return m, nil
}

// mergeMaps copies src into dst, recursing into nested maps.
func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				mergeMaps(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
}

// normalize converts the map flavours produced by the decoders into
// map[string]any so they merge and encode uniformly.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}
