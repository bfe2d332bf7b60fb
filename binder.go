package squall

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v3"
)

// binder decodes request payloads into typed values based on the
// Content-Type header. GET requests bind from the query string instead.
type binder struct{}

// theBinder is the singleton instance of the `binder`.
var theBinder = &binder{}

// bind decodes the req into the v. Decoding failures come back as
// bad-request `ExtractionError`s so handlers can answer 400 without
// inspecting them. An unknown Content-Type yields the
// `ErrUnsupportedMediaType`, and a protobuf target that is not a
// `proto.Message` yields a server-side `ExtractionError`.
func (b *binder) bind(v interface{}, req *Request) error {
	if req.Method == MethodGet {
		if err := b.bindData(v, req.Query(), "query"); err != nil {
			return &ExtractionError{BadRequest: true, Err: err}
		}

		return nil
	} else if len(req.Body) == 0 {
		return &ExtractionError{
			BadRequest: true,
			Err:        errors.New("request body cannot be empty"),
		}
	}

	ctype := req.Headers.Get("Content-Type")

	var err error
	switch {
	case strings.HasPrefix(ctype, "application/json"):
		err = json.Unmarshal(req.Body, v)
	case strings.HasPrefix(ctype, "application/xml"),
		strings.HasPrefix(ctype, "text/xml"):
		err = xml.Unmarshal(req.Body, v)
	case strings.HasPrefix(ctype, "application/toml"):
		err = toml.Unmarshal(req.Body, v)
	case strings.HasPrefix(ctype, "application/yaml"),
		strings.HasPrefix(ctype, "text/yaml"):
		err = yaml.Unmarshal(req.Body, v)
	case strings.HasPrefix(ctype, "application/msgpack"),
		strings.HasPrefix(ctype, "application/x-msgpack"):
		err = msgpack.Unmarshal(req.Body, v)
	case strings.HasPrefix(ctype, "application/protobuf"),
		strings.HasPrefix(ctype, "application/x-protobuf"):
		m, ok := v.(proto.Message)
		if !ok {
			return &ExtractionError{
				BadRequest: false,
				Err:        errors.New("protobuf binding target is not a proto.Message"),
			}
		}

		err = proto.Unmarshal(req.Body, m)
	case strings.HasPrefix(ctype, "application/x-www-form-urlencoded"):
		var values url.Values
		if values, err = url.ParseQuery(string(req.Body)); err == nil {
			err = b.bindData(v, values, "form")
		}
	default:
		return ErrUnsupportedMediaType
	}

	if err != nil {
		return &ExtractionError{BadRequest: true, Err: err}
	}

	return nil
}

// bindData binds the values into the v's struct fields by the tag.
func (b *binder) bindData(v interface{}, values url.Values, tag string) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("binding target must be a non-nil pointer")
	}

	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return errors.New("binding target must point to a struct")
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.PkgPath != "" {
			continue
		}

		name := f.Tag.Get(tag)
		if name == "" {
			name = f.Name
		} else if name == "-" {
			continue
		}

		vs, ok := values[name]
		if !ok || len(vs) == 0 {
			continue
		}

		fv := rv.Field(i)
		if fv.Kind() == reflect.Slice && fv.Type().Elem().Kind() == reflect.String {
			fv.Set(reflect.ValueOf(vs))
			continue
		}

		if err := setField(fv, vs[0]); err != nil {
			return fmt.Errorf("cannot bind field %s: %v", f.Name, err)
		}
	}

	return nil
}

// setField sets the fv from its string form.
func setField(fv reflect.Value, s string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}

		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}

		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return err
		}

		fv.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}

		fv.SetFloat(n)
	default:
		return fmt.Errorf("unsupported kind %s", fv.Kind())
	}

	return nil
}
