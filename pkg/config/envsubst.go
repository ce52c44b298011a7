package config

import (
	"os"
	"reflect"
	"regexp"

	"github.com/bcdev/zappend/pkg/zerrors"
)

// envVarPattern matches ${NAME} and bare $NAME forms (spec §4.2).
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// substituteEnvStrings walks every string field reachable from v (a
// pointer to a struct) and replaces ${NAME}/$NAME references with the
// corresponding environment variable. An unresolved reference is a
// ConfigError, per spec §4.2.
func substituteEnvStrings(v reflect.Value) error {
	return walk(v)
}

func walk(v reflect.Value) error {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return walk(v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			f := v.Field(i)
			if !f.CanSet() {
				continue
			}
			if err := walk(f); err != nil {
				return err
			}
		}
	case reflect.Map:
		for _, key := range v.MapKeys() {
			val := v.MapIndex(key)
			resolved, err := resolveValue(val)
			if err != nil {
				return err
			}
			if resolved.IsValid() {
				v.SetMapIndex(key, resolved)
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := walk(v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.String:
		resolved, err := substitute(v.String())
		if err != nil {
			return err
		}
		v.SetString(resolved)
	}
	return nil
}

// resolveValue handles map values, which may be typed string or any(any).
func resolveValue(val reflect.Value) (reflect.Value, error) {
	if val.Kind() == reflect.Interface {
		val = val.Elem()
	}
	if !val.IsValid() {
		return reflect.Value{}, nil
	}
	if val.Kind() == reflect.String {
		resolved, err := substitute(val.String())
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(resolved), nil
	}
	return reflect.Value{}, nil
}

func substitute(s string) (string, error) {
	var firstErr error
	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		value, ok := os.LookupEnv(name)
		if !ok {
			if firstErr == nil {
				firstErr = zerrors.Config("unresolved environment variable %q", name)
			}
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}
