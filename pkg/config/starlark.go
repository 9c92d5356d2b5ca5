package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// DefaultStarlarkTimeout bounds the evaluation of one .star source.
const DefaultStarlarkTimeout = 10 * time.Second

// decodeStarlark executes a .star source and returns its public globals as a
// configuration document. The document merged so far is predeclared, frozen,
// as config, so a script can derive tiers or regions from earlier layers.
// Globals starting with an underscore and functions are not exported.
func (l *Loader) decodeStarlark(name string, data []byte, current map[string]interface{}) (map[string]interface{}, error) {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			l.logger.Debug().Str("file", name).Msg(msg)
		},
	}
	timer := time.AfterFunc(l.starlarkTimeout, func() {
		thread.Cancel(fmt.Sprintf("evaluation exceeded %s", l.starlarkTimeout))
	})
	defer timer.Stop()

	config, err := toStarlarkValue(current)
	if err != nil {
		return nil, fmt.Errorf("failed to expose configuration to starlark: %w", err)
	}
	config.Freeze()

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"config": config,
	}
	globals, err := starlark.ExecFile(thread, name, data, predeclared)
	if err != nil {
		return nil, starlarkError(name, err)
	}

	doc := make(map[string]interface{}, len(globals))
	for key, val := range globals {
		if strings.HasPrefix(key, "_") {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, LoadError{File: name, Path: key, Message: err.Error()}
		}
		doc[key] = goVal
	}
	return doc, nil
}

func starlarkError(name string, err error) error {
	var serr syntax.Error
	if errors.As(err, &serr) {
		return LoadError{
			File:    name,
			Line:    int(serr.Pos.Line),
			Column:  int(serr.Pos.Col),
			Message: serr.Msg,
		}
	}
	var eerr *starlark.EvalError
	if errors.As(err, &eerr) {
		le := LoadError{File: name, Message: eerr.Msg}
		if len(eerr.CallStack) > 0 {
			pos := eerr.CallStack.At(0).Pos
			le.Line = int(pos.Line)
			le.Column = int(pos.Col)
		}
		return le
	}
	return LoadError{File: name, Message: err.Error()}
}

// toStarlarkValue converts a decoded document value to a Starlark value.
// Scalars the decoders produce without a Starlark counterpart, such as TOML
// datetimes, are exposed as strings.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case []map[string]interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		if m, ok := asMap(v); ok {
			return toStarlarkValue(m)
		}
		return starlark.String(fmt.Sprint(v)), nil
	}
}

// fromStarlarkValue converts a Starlark value to a document value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", val)
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromStarlarkIterable(val, val.Len())
	case starlark.Tuple:
		return fromStarlarkIterable(val, val.Len())
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0])
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromStarlarkIterable(it starlark.Iterable, n int) ([]interface{}, error) {
	list := make([]interface{}, 0, n)
	iter := it.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		item, err := fromStarlarkValue(x)
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}
	return list, nil
}
