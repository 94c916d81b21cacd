package project

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/srand/fgmachine/pkg/utils"
)

// Options selects how hyperparameters are rendered as command line arguments.
type Options int

// The zero value is DoubleDash, which is also used when a project
// does not name its options.
const (
	// --key=value
	DoubleDash Options = iota
	// -key value
	SingleDash
	// key value
	Plain
)

var optionNames = map[Options]string{
	Plain:      "plain",
	SingleDash: "single-dash",
	DoubleDash: "double-dash",
}

type formatter func(key, value string) []string

var formatters = map[Options]formatter{
	Plain: func(key, value string) []string {
		return []string{key, value}
	},
	SingleDash: func(key, value string) []string {
		return []string{"-" + key, value}
	},
	DoubleDash: func(key, value string) []string {
		return []string{"--" + key + "=" + value}
	},
}

func ParseOptions(name string) (Options, error) {
	if name == "" {
		return DoubleDash, nil
	}
	for opt, optName := range optionNames {
		if optName == name {
			return opt, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown options %q", utils.ErrParse, name)
}

func (o Options) String() string {
	if name, ok := optionNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Options(%d)", int(o))
}

func (o Options) MarshalText() ([]byte, error) {
	name, ok := optionNames[o]
	if !ok {
		return nil, fmt.Errorf("invalid options value %d", int(o))
	}
	return []byte(name), nil
}

func (o *Options) UnmarshalText(text []byte) error {
	opt, err := ParseOptions(string(text))
	if err != nil {
		return err
	}
	*o = opt
	return nil
}

// Format renders one hyperparameter.
func (o Options) Format(key string, value any) []string {
	return formatters[o](key, FormatValue(value))
}

// FormatValue renders a decoded JSON value the way it should appear on a
// command line.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
