// Package envconf fills tagged struct fields from environment variables.
//
// A field is bound with the `env` tag: `env:"NAME[,option...]"`. Options:
//
//	required    the variable must be set
//	file        the value must be an existing file
//	dir         the value must be an existing directory
//	opt[a,b]    the value must be one of the listed values, quote values containing a comma: opt[a,'b,c'];
//	            an unset variable only passes if the empty value is listed
//	size        int64 field parsed as a byte size (16MiB, 64m, 1048576)
//
// Unset variables leave the field untouched, so defaults can be assigned before parsing.
package envconf

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/colorstring"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"
)

var (
	// ErrNotStructPtr indicates a type is not a pointer to a struct.
	ErrNotStructPtr = errors.New("must be a pointer to a struct")
	// ErrRequired indicates a required variable is not set.
	ErrRequired = errors.New("required variable is not present")
	// ErrInvalidOption indicates a value is not one of the accepted options.
	ErrInvalidOption = errors.New("value is not among the accepted options")
)

// Secret variables are not shown in the printed output.
type Secret string

const secret = "*****"

// String implements fmt.Stringer.String.
// When a Secret is printed, it's masking the underlying string with asterisks.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secret
}

// EnvGetter ...
type EnvGetter interface {
	Get(key string) string
}

// Parse populates a struct with the values of the environment variables named in its `env` tags.
func Parse(conf interface{}) error {
	return parse(conf, env.NewRepository())
}

func parse(conf interface{}, envGetter EnvGetter) error {
	c := reflect.ValueOf(conf)
	if c.Kind() != reflect.Ptr || c.IsNil() {
		return ErrNotStructPtr
	}
	c = c.Elem()
	if c.Kind() != reflect.Struct {
		return ErrNotStructPtr
	}
	t := c.Type()

	var errs []string
	for i := 0; i < t.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}
		key, constraint := parseTag(tag)
		value := envGetter.Get(key)

		if err := setField(c.Field(i), value, constraint); err != nil {
			errs = append(errs, fmt.Sprintf("- %s: %s", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func parseTag(tag string) (string, string) {
	if !strings.Contains(tag, ",") {
		return tag, ""
	}
	split := strings.SplitN(tag, ",", 2)
	return split[0], split[1]
}

func setField(field reflect.Value, value, constraint string) error {
	if err := validateConstraint(value, constraint); err != nil {
		return err
	}

	if value == "" {
		return nil
	}

	if field.Kind() == reflect.Ptr {
		// If field is a pointer type, then set its value to be a pointer to a new zero value, matching the field's underlying type.
		field.Set(reflect.New(field.Type().Elem()))
		field = field.Elem()
	}

	if constraint == "size" {
		if field.Kind() != reflect.Int64 {
			return fmt.Errorf("size option on a %s field", field.Kind())
		}
		size, err := units.RAMInBytes(value)
		if err != nil {
			return fmt.Errorf("can't convert %s to a size: %w", value, err)
		}
		field.SetInt(size)
		return nil
	}

	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("can't convert %s to a duration: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return errors.New("can't convert to bool")
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 0, field.Type().Bits())
		if err != nil {
			return errors.New("can't convert to int")
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return errors.New("can't convert to float")
		}
		field.SetFloat(f)
	case reflect.Slice:
		field.Set(reflect.ValueOf(strings.Split(value, "|")))
	default:
		return fmt.Errorf("type is not supported (%s)", field.Kind())
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	return strconv.ParseBool(value)
}

func validateConstraint(value, constraint string) error {
	switch constraint {
	case "", "size":
		break
	case "required":
		if value == "" {
			return ErrRequired
		}
	case "file", "dir":
		if err := checkPath(value, constraint == "dir"); err != nil {
			return err
		}
	default:
		if !strings.HasPrefix(constraint, "opt[") || !strings.HasSuffix(constraint, "]") {
			return fmt.Errorf("invalid constraint (%s)", constraint)
		}
		if !contains(value, constraint) {
			return fmt.Errorf("%w: %s", ErrInvalidOption, value)
		}
	}
	return nil
}

func checkPath(path string, dir bool) error {
	file, err := os.Stat(path)
	if err != nil {
		// The directory/file doesn't exist
		return err
	}
	if dir && !file.IsDir() {
		return errors.New("not a directory")
	}
	return nil
}

// contains reports whether value is among the options of opt[...]. Options containing a comma are quoted: opt[a,'b,c'].
func contains(value, constraint string) bool {
	for _, option := range getOptions(constraint[len("opt[") : len(constraint)-1]) {
		if option == value {
			return true
		}
	}
	return false
}

func getOptions(list string) []string {
	var (
		options []string
		current strings.Builder
		quoted  bool
	)
	for _, r := range list {
		switch {
		case r == '\'':
			quoted = !quoted
		case r == ',' && !quoted:
			options = append(options, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(options, current.String())
}

// Print the name of the struct with Title case in blue color followed by a newline,
// then print all fields formatted as '- field name: field value` separated by newline.
func Print(config interface{}) {
	fmt.Print(toString(config))
}

// String returns the text Print writes.
func String(config interface{}) string {
	return toString(config)
}

func valueString(v reflect.Value) string {
	if v.Kind() != reflect.Ptr {
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprintf("%v", v.Interface())
	}

	if !v.IsNil() {
		return fmt.Sprintf("%v", v.Elem().Interface())
	}

	return ""
}

// returns the name of the struct with Title case.
func toString(config interface{}) string {
	v := reflect.ValueOf(config)
	t := reflect.TypeOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
		t = t.Elem()
	}

	name := t.Name()
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	str := colorstring.Bluef("%s:\n", name)

	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Name
		if tag, ok := t.Field(i).Tag.Lookup("env"); ok {
			key, _ = parseTag(tag)
		}

		value := "<unset>"
		if field := v.Field(i); !field.IsZero() {
			value = valueString(field)
		}
		str += fmt.Sprintf("- %s: %s\n", key, value)
	}

	return str
}
