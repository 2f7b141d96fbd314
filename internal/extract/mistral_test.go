package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/oficio-pipeline/internal/resilience"
)

func newTestMistral(t *testing.T, handler http.HandlerFunc) *MistralProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := NewMistral("test-key", "", 5*time.Second, nil)
	p.endpoint = srv.URL
	return p
}

func TestMistral_Analyze(t *testing.T) {
	var gotAuth string
	var gotReq mistralChatRequest
	p := newTestMistral(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"tipo_oficio_detectado": "Embargo", "informacion_extraida": {"numero_oficio": "OF-9", "monto": "B/.1,000.00"}}`}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	record, err := p.Analyze(context.Background(), "texto del oficio")
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, defaultMistralModel, gotReq.Model)
	require.Len(t, gotReq.Messages, 1)
	assert.Contains(t, gotReq.Messages[0].Content, "texto del oficio")
	assert.InDelta(t, 0.1, gotReq.Temperature, 0.001)

	assert.Equal(t, "Embargo", record.Classification)
	assert.Equal(t, "OF-9", record.OficioNumber)
	assert.InDelta(t, 1000.0, record.Amount, 0.001)
	assert.Equal(t, "texto del oficio", record.FullText)
}

func TestMistral_AnalyzeServerErrorIsTransient(t *testing.T) {
	p := newTestMistral(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := p.Analyze(context.Background(), "texto")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestMistral_AnalyzeBadRequestIsPermanent(t *testing.T) {
	p := newTestMistral(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad prompt", http.StatusBadRequest)
	})

	_, err := p.Analyze(context.Background(), "texto")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestMistral_AnalyzeNoChoices(t *testing.T) {
	p := newTestMistral(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"choices": []any{}}))
	})

	_, err := p.Analyze(context.Background(), "texto")
	assert.Error(t, err)
}
