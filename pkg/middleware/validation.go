package middleware

import (
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/sitestock/stock-ledger/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	customMu       sync.RWMutex
	customMessages = map[string]string{
		"safe_string": "contains invalid characters",
		"actor_id":    "must be a valid actor id",
	}
)

// InitValidator initializes the validator with custom validators. JSON bodies are
// decoded strictly: unknown fields are rejected.
func InitValidator() *validator.Validate {
	validateOnce.Do(func() {
		binding.EnableDecoderDisallowUnknownFields = true

		validate = validator.New()
		configureValidator(validate)

		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			configureValidator(v)
		}
	})

	return validate
}

func configureValidator(v *validator.Validate) {
	_ = v.RegisterValidation("safe_string", validateSafeString)
	_ = v.RegisterValidation("actor_id", validateActorID)

	// Use JSON tag names for error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		}
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
}

// RegisterValidation adds a service-specific validation tag to both the shared validator
// and Gin's binding validator. message is used by ValidationErrorFormatter.
func RegisterValidation(tag string, fn validator.Func, message string) error {
	InitValidator()

	if err := validate.RegisterValidation(tag, fn); err != nil {
		return err
	}
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}

	customMu.Lock()
	customMessages[tag] = message
	customMu.Unlock()
	return nil
}

// GetValidator returns the singleton validator instance
func GetValidator() *validator.Validate {
	return InitValidator()
}

var (
	actorIDRegex    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@:-]{0,127}$`)
	safeStringRegex = regexp.MustCompile(`^[\p{L}\p{N}\s\-_.,!?@#$%&*()+=:;'"/]+$`)
)

func validateActorID(fl validator.FieldLevel) bool {
	return actorIDRegex.MatchString(fl.Field().String())
}

func validateSafeString(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == "" || safeStringRegex.MatchString(value)
}

// ValidationErrorFormatter formats validation errors into a map
func ValidationErrorFormatter(err error) map[string]string {
	fields := make(map[string]string)

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrors {
			fields[e.Field()] = formatValidationError(e)
		}
	}

	return fields
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	}

	customMu.RLock()
	defer customMu.RUnlock()
	if msg, ok := customMessages[e.Tag()]; ok {
		return msg
	}
	return "is invalid"
}

// BindAndValidate binds request body and validates it
func BindAndValidate(c *gin.Context, obj interface{}) *errors.AppError {
	if err := c.ShouldBindJSON(obj); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return errors.ErrValidationWithFields("validation failed", ValidationErrorFormatter(validationErrors))
		}
		return errors.ErrValidation("invalid request body: " + err.Error())
	}
	return nil
}

// BindQuery binds and validates query parameters
func BindQuery(c *gin.Context, obj interface{}) *errors.AppError {
	if err := c.ShouldBindQuery(obj); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return errors.ErrValidationWithFields("validation failed", ValidationErrorFormatter(validationErrors))
		}
		return errors.ErrValidation("invalid query: " + err.Error())
	}
	return nil
}

// ValidateStruct validates a struct using the validator
func ValidateStruct(obj interface{}) *errors.AppError {
	if err := GetValidator().Struct(obj); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return errors.ErrValidationWithFields("validation failed", ValidationErrorFormatter(validationErrors))
		}
		return errors.ErrValidation("validation failed: " + err.Error())
	}
	return nil
}

// SanitizeString removes null bytes and surrounding whitespace
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}

// InputSanitizer middleware sanitizes query parameters
func InputSanitizer() gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Request.URL.Query()
		for key, values := range query {
			for i, v := range values {
				values[i] = SanitizeString(v)
			}
			query[key] = values
		}
		c.Request.URL.RawQuery = query.Encode()

		c.Next()
	}
}

// ContentType middleware ensures a JSON content type for requests with a body
func ContentType() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut || c.Request.Method == http.MethodPatch {
			contentType := c.GetHeader("Content-Type")
			if (contentType == "" || !strings.HasPrefix(contentType, "application/json")) && c.Request.ContentLength > 0 {
				AbortWithAppError(c, errors.NewAppError(
					"INVALID_CONTENT_TYPE",
					"Content-Type must be application/json",
					http.StatusUnsupportedMediaType,
				))
				return
			}
		}
		c.Next()
	}
}
