package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"

	"myhook/internal/shared/utils"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers broker specific validation rules
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("listen_addr", validateListenAddr); err != nil {
		return fmt.Errorf("failed to register listen_addr validator: %w", err)
	}
	if err := v.RegisterValidation("subdomain", validateSubdomain); err != nil {
		return fmt.Errorf("failed to register subdomain validator: %w", err)
	}
	return nil
}

// validateListenAddr accepts host:port and :port with a numeric port
func validateListenAddr(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}

func validateSubdomain(fl validator.FieldLevel) bool {
	return utils.ValidateSubdomain(fl.Field().String())
}

// Validate checks struct tags and cross-field rules
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(yamlName)

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if c.TLSEnabled() && c.Server.HTTPSAddr == "" {
		return errors.New("server.https_addr: required when tls is enabled")
	}
	if c.Tunnel.RequestTimeout < c.Tunnel.PendingSweepInterval {
		return errors.New("tunnel.request_timeout: must not be shorter than tunnel.pending_sweep_interval")
	}

	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := fieldPath(e.Namespace())

	switch e.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s: is required", field)
	case "listen_addr":
		return fmt.Sprintf("%s: must be host:port or :port, got %q", field, e.Value())
	case "hostname_rfc1123":
		return fmt.Sprintf("%s: must be a valid hostname, got %q", field, e.Value())
	case "subdomain":
		return fmt.Sprintf("%s: must be 3-63 lowercase letters, digits or hyphens, got %q", field, e.Value())
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s], got %q", field, e.Param(), e.Value())
	case "startswith":
		return fmt.Sprintf("%s: must start with %q", field, e.Param())
	case "alphanum":
		return fmt.Sprintf("%s: must be alphanumeric", field)
	case "gt", "gte", "lte":
		return fmt.Sprintf("%s: must be %s %s, got %v", field, e.Tag(), e.Param(), e.Value())
	default:
		return fmt.Sprintf("%s: failed %s validation", field, e.Tag())
	}
}

// fieldPath strips the root type from a namespace like Config.tunnel.send_queue
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

// yamlName reports fields by their yaml key
func yamlName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}
