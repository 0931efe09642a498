package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deedstudio/internal/model"
)

func TestWriteMediaError(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	log := logrus.NewEntry(l)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unsupported", model.NewError(model.KindUnsupportedMedia, "select", "", nil), http.StatusBadRequest, "UNSUPPORTED_MEDIA"},
		{"too large", model.NewError(model.KindTooLarge, "select", "", nil), http.StatusBadRequest, model.CodeFileTooLarge},
		{"validation", model.Validationf("publish", "bad"), http.StatusBadRequest, "VALIDATION_FAILURE"},
		{"denied", model.NewError(model.KindPermissionDenied, "edit", "", model.ErrNotPostOwner), http.StatusForbidden, "PERMISSION_DENIED"},
		{"decode", model.NewError(model.KindDecodeFailure, "probe", "", nil), http.StatusUnprocessableEntity, "DECODE_FAILURE"},
		{"transport", fmt.Errorf("wrapped: %w", model.Transport("upload", errors.New("503"))), http.StatusBadGateway, "TRANSPORT_FAILURE"},
		{"post missing", fmt.Errorf("get: %w", model.ErrPostNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"selection missing", model.ErrSelectionNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteMediaError(rec, log, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error.Code)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}
