package settingsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/meilidash/internal/errors"
)

// Codec converts between a Config and the text shown in an editor.
// Marshal output is canonical: keys sorted, two-space indent.
type Codec interface {
	Format() string
	Marshal(cfg Config) ([]byte, error)
	// Unmarshal parses text that must hold a single object. Failures are
	// *errors.MalformedInputError.
	Unmarshal(data []byte) (Config, error)
}

var (
	// JSON is the default codec.
	JSON Codec = jsonCodec{}
	// YAML encodes settings as a YAML mapping.
	YAML Codec = yamlCodec{}
)

// CodecFor returns the codec for "json" or "yaml".
func CodecFor(format string) (Codec, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	default:
		return nil, errors.NewValidationError("unknown settings format").WithField("format").WithValue(format)
	}
}

type jsonCodec struct{}

func (jsonCodec) Format() string { return "json" }

func (jsonCodec) Marshal(cfg Config) ([]byte, error) {
	if cfg == nil {
		cfg = Config{}
	}
	return json.MarshalIndent(cfg, "", "  ")
}

func (c jsonCodec) Unmarshal(data []byte) (Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.NewMalformedInputError(c.Format(), nil).WithMessage("settings text is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		malformed := errors.NewMalformedInputError(c.Format(), err)
		var syntax *json.SyntaxError
		var typ *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntax):
			malformed.WithPosition(position(data, syntax.Offset))
		case errors.As(err, &typ):
			malformed.WithPosition(position(data, typ.Offset))
		case errors.Is(err, io.ErrUnexpectedEOF):
			malformed.WithPosition(position(data, int64(len(data))))
		}
		return nil, malformed
	}
	if rest := bytes.TrimLeft(data[dec.InputOffset():], " \t\r\n"); len(rest) > 0 {
		offset := int64(len(data)-len(rest)) + 1
		return nil, errors.NewMalformedInputError(c.Format(), nil).
			WithMessage("unexpected content after the settings object").
			WithPosition(position(data, offset))
	}
	return asObject(c.Format(), exactNumbers(v))
}

type yamlCodec struct{}

func (yamlCodec) Format() string { return "yaml" }

func (yamlCodec) Marshal(cfg Config) ([]byte, error) {
	if cfg == nil {
		cfg = Config{}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(yamlValue(map[string]any(cfg))); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// yamlValue copies v, turning json.Number into plain scalars. The YAML
// encoder would otherwise quote them as strings.
func yamlValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = yamlValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = yamlValue(vv)
		}
		return s
	case json.Number:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: t.String()}
	default:
		return v
	}
}

var yamlLine = regexp.MustCompile(`line (\d+)`)

func (c yamlCodec) Unmarshal(data []byte) (Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.NewMalformedInputError(c.Format(), nil).WithMessage("settings text is empty")
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		malformed := errors.NewMalformedInputError(c.Format(), err)
		if m := yamlLine.FindStringSubmatch(err.Error()); m != nil {
			line, _ := strconv.Atoi(m[1])
			malformed.WithPosition(line, 0)
		}
		return nil, malformed
	}

	// Normalize through JSON so numbers and nested maps have the same Go
	// types regardless of the codec that produced them.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewMalformedInputError(c.Format(), err).WithMessage("settings keys must be strings")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return nil, errors.NewMalformedInputError(c.Format(), err)
	}
	return asObject(c.Format(), exactNumbers(normalized))
}

func asObject(format string, v any) (Config, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.NewMalformedInputError(format, nil).
			WithMessage(fmt.Sprintf("settings must be an object, got %s", kindOf(v)))
	}
	return Config(obj), nil
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case float64, json.Number:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// position converts a byte offset into a 1-based line and column.
func position(data []byte, offset int64) (line, column int) {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	line, column = 1, 1
	for _, b := range data[:offset] {
		if b == '\n' {
			line++
			column = 1
			continue
		}
		column++
	}
	return line, column
}
