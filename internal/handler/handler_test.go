package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-proposals/internal/models"
)

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *struct{ Code string } `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func newTestContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type callbackServiceMock struct {
	triggers     []models.Trigger
	instructions []models.Instruction
	err          error
}

func (m *callbackServiceMock) Handle(_ context.Context, trigger models.Trigger) ([]models.Instruction, error) {
	m.triggers = append(m.triggers, trigger)
	return m.instructions, m.err
}

type sinkMock struct {
	batches [][]models.Instruction
	err     error
}

func (m *sinkMock) Submit(instructions []models.Instruction) error {
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, instructions)
	return nil
}
