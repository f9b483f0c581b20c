package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"flowledger.org/internal/ledger"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// command carries the idempotency key that every mutating body may repeat.
type command struct {
	IdempotencyKey string `json:"idempotency_key"`
}

func (c command) bodyKey() string { return c.IdempotencyKey }

type keyed interface {
	bodyKey() string
}

// bind decodes and validates a mutating request and resolves its
// idempotency key. On failure the error response is already written.
func bind(w http.ResponseWriter, r *http.Request, req keyed) (string, bool) {
	if err := decodeJSON(w, r, req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return "", false
	}
	key, err := idempotencyKey(r, req.bodyKey())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return "", false
	}
	if err := validate.Struct(req); err != nil {
		writeValidationError(w, r, err)
		return "", false
	}
	w.Header().Set("Idempotency-Key", key)
	return key, true
}

func idempotencyKey(r *http.Request, bodyKey string) (string, error) {
	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if bodyKey = strings.TrimSpace(bodyKey); bodyKey != "" {
		if idem == "" {
			idem = bodyKey
		} else if idem != bodyKey {
			return "", errors.New("Idempotency-Key header and body value must match")
		}
	}
	if idem == "" {
		return "", errors.New("Idempotency-Key is required")
	}
	if len(idem) > ledger.MaxIdempotencyKeyLen {
		return "", fmt.Errorf("Idempotency-Key must be at most %d characters", ledger.MaxIdempotencyKeyLen)
	}
	return idem, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	fe := verrs[0]
	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	writeErrorBody(w, r, http.StatusBadRequest, errorResponse{
		Error: fmt.Sprintf("%s failed %s", fe.Field(), rule),
		Code:  "validation_failed",
		Field: fe.Field(),
	})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, fmt.Errorf("limit must be between %d and %d", min, max)
	}
	return val, nil
}

// parseTime accepts RFC3339 timestamps and plain dates (midnight UTC).
func parseTime(name, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%s must be RFC3339 or YYYY-MM-DD", name)
}
