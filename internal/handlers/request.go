package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
)

const (
	maxJSONBodySize    = 64 * 1024
	maxWebhookBodySize = 1 << 20
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

// decodeRequest reads a JSON body into out and validates its struct tags. It writes the
// error response itself and reports whether the handler may continue. Optional bodies
// tolerate an empty payload.
func decodeRequest(w http.ResponseWriter, r *http.Request, out any, optional bool) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxJSONBodySize)
	switch {
	case errors.Is(err, errEmptyBody) && optional:
		body = nil
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return false
		}
	}
	if err := requestValidator.Struct(out); err != nil {
		writeValidationError(ctx, w, err)
		return false
	}
	return true
}

func writeValidationError(ctx context.Context, w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[jsonPath(fe.Namespace())] = fe.Tag()
	}
	httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "request validation failed", http.StatusBadRequest).
		WithDetails(map[string]any{"fields": fields}))
}

// jsonPath drops the root struct name from a validator namespace.
func jsonPath(namespace string) string {
	if idx := strings.IndexByte(namespace, '.'); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

// actorFromRequest maps the Firebase identity onto an order actor. Requests without an
// identity act as guests.
func actorFromRequest(r *http.Request) domain.Actor {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		return domain.Actor{Role: domain.ActorCustomer}
	}
	role := domain.ActorCustomer
	if identity.IsOperator() {
		role = domain.ActorOperator
	}
	return domain.Actor{ID: strings.TrimSpace(identity.UID), Role: role}
}

func identityEmail(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return strings.TrimSpace(identity.Email)
	}
	return ""
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
