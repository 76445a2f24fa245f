package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// 点分隔字段路径，例如 "Trainer.Dataset.Seed"，按 Go 字段名逐级查找

func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(c rune) bool { return c == '.' })
}

// fieldByPath 找到路径指向的字段，中途遇到指针会解引用
func fieldByPath(v reflect.Value, path string) (reflect.Value, error) {
	for _, name := range splitPath(path) {
		for v.Kind() == reflect.Ptr {
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("not a struct at %s", name)
		}
		if v = v.FieldByName(name); !v.IsValid() {
			return reflect.Value{}, fmt.Errorf("field not found: %s", name)
		}
	}
	return v, nil
}

func getNestedField(v reflect.Value, path string) (any, error) {
	f, err := fieldByPath(v, path)
	if err != nil {
		return nil, err
	}
	return f.Interface(), nil
}

// setNestedField 写入字段。数值之间按目标类型转换（整数字段拒绝小数），
// Duration 字段接受 "90s" 这样的字符串。
func setNestedField(v reflect.Value, path string, value any) error {
	f, err := fieldByPath(v, path)
	if err != nil {
		return err
	}
	if !f.CanSet() {
		return fmt.Errorf("cannot set field: %s", path)
	}
	src := reflect.ValueOf(value)
	if !src.IsValid() {
		return fmt.Errorf("nil value for %s", path)
	}

	switch {
	case src.Type().AssignableTo(f.Type()):
		f.Set(src)
	case f.Type() == durationType && src.Kind() == reflect.String:
		d, err := time.ParseDuration(src.String())
		if err != nil {
			return err
		}
		f.SetInt(int64(d))
	case isNumeric(src.Kind()) && isNumeric(f.Kind()):
		n, _ := toFloat(value)
		if isInteger(f.Kind()) && n != float64(int64(n)) {
			return fmt.Errorf("%s expects an integer, got %v", path, value)
		}
		f.Set(src.Convert(f.Type()))
	default:
		return fmt.Errorf("type mismatch: expected %s, got %s", f.Type(), src.Type())
	}
	return nil
}

func toFloat(value any) (float64, bool) {
	v := reflect.ValueOf(value)
	switch {
	case !v.IsValid():
		return 0, false
	case v.Kind() == reflect.Float32 || v.Kind() == reflect.Float64:
		return v.Float(), true
	case v.CanInt():
		return float64(v.Int()), true
	case v.CanUint():
		return float64(v.Uint()), true
	}
	return 0, false
}

func isInteger(k reflect.Kind) bool {
	return (k >= reflect.Int && k <= reflect.Int64) || (k >= reflect.Uint && k <= reflect.Uint64)
}

func isNumeric(k reflect.Kind) bool {
	return isInteger(k) || k == reflect.Float32 || k == reflect.Float64
}
