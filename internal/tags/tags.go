// Package tags reads the `tabby:"id"` and `tabby:"version"` struct tags of
// document rows.
package tags

import (
	"fmt"
	"reflect"
)

func field(doc any, tag string) (reflect.Value, bool) {
	v := reflect.ValueOf(doc)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("tabby") == tag {
			return v.Field(i), true
		}
	}
	if tag == "id" {
		if f := v.FieldByName("ID"); f.IsValid() {
			return f, true
		}
	}
	return reflect.Value{}, false
}

// ExtractID returns the tagged id field, falling back to a field named ID.
func ExtractID(doc any) (string, error) {
	f, ok := field(doc, "id")
	if !ok {
		return "", fmt.Errorf("no id field in %T", doc)
	}
	id := fmt.Sprint(f.Interface())
	if id == "" {
		return "", fmt.Errorf("empty id in %T", doc)
	}
	return id, nil
}

// ExtractVersion returns the tagged version field, if any.
func ExtractVersion(doc any) (int64, bool) {
	f, ok := field(doc, "version")
	if !ok || !f.CanInt() {
		return 0, false
	}
	return f.Int(), true
}

func SetVersion(doc any, version int64) {
	f, ok := field(doc, "version")
	if !ok || !f.CanSet() || !f.CanInt() {
		return
	}
	f.SetInt(version)
}
