package provider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func paramsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// 错误信息里使用 json 字段名
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// normalizer 在校验前整理参数（去空白、补默认值）
type normalizer interface {
	normalize()
}

// decodeParams 解析请求体并执行 validate 标签校验
func decodeParams(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return invalidf("request body is required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalidf("invalid request body: %v", err)
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	return checkParams(dst)
}

func checkParams(params any) error {
	err := paramsValidator().Struct(params)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalidf("invalid parameters: %v", err)
	}

	fields := make(map[string]string, len(fieldErrs))
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := describeFieldError(fe)
		fields[fe.Field()] = msg
		messages = append(messages, fe.Field()+" "+msg)
	}
	return &ValidationError{
		Message: strings.Join(messages, "; "),
		Fields:  fields,
	}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.String {
			return fmt.Sprintf("must have at least %s items/characters", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.String {
			return fmt.Sprintf("must have at most %s items/characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "url", "http_url":
		return "must be a valid URL"
	default:
		return "failed on " + fe.Tag()
	}
}

func trimStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
