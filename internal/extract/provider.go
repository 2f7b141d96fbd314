// Package extract turns a unit's artifact text into a structured oficio
// record via an external analysis service.
package extract

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/oficio-pipeline/internal/config"
	"github.com/sells-group/oficio-pipeline/internal/model"
)

// Provider analyzes oficio text and returns the structured record.
type Provider interface {
	Analyze(ctx context.Context, text string) (*model.OficioRecord, error)
}

// NewProvider builds the configured analysis provider.
func NewProvider(cfg config.ExtractConfig) (Provider, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	if cfg.RatePerSec <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	switch cfg.Provider {
	case "mistral":
		return NewMistral(cfg.MistralKey, cfg.MistralModel, timeout, limiter), nil
	case "claude":
		return NewClaude(cfg.AnthropicKey, cfg.AnthropicModel, timeout, limiter), nil
	}
	return nil, eris.Errorf("extract: unknown provider %q", cfg.Provider)
}

// analysisPrompt instructs the model to return only the JSON document the
// parser understands. Field names stay in Spanish to match the source
// documents.
const analysisPrompt = `Eres un experto en análisis de documentos legales panameños. Analiza el siguiente texto de un oficio legal y extrae la información estructurada.

TEXTO DEL OFICIO:
%s

INSTRUCCIONES:
1. Extrae toda la información disponible en formato JSON
2. Si no encuentras un campo, usa null
3. Para fechas, usa formato YYYY-MM-DD
4. Para montos, extrae solo el número sin símbolos
5. Para personas, separa nombre y apellido

RESPONDE ÚNICAMENTE CON UN JSON VÁLIDO CON ESTA ESTRUCTURA:
{
    "palabras_clave_encontradas": ["palabra1", "palabra2"],
    "tipo_oficio_detectado": "tipo",
    "nivel_confianza": "alto|medio|bajo",
    "informacion_extraida": {
        "numero_oficio": "string o null",
        "autoridad": "string o null",
        "fecha_emision": "YYYY-MM-DD o null",
        "fecha_recibido": "YYYY-MM-DD o null",
        "oficiado_cliente": "string o null",
        "numero_identificacion": "string o null",
        "expediente": "string o null",
        "numero_resolucion": "string o null",
        "fecha_resolucion": "YYYY-MM-DD o null",
        "monto": "number o null",
        "vencimiento": "YYYY-MM-DD o null",
        "personas": [
            {
                "nombre": "string",
                "apellido": "string o null",
                "identificacion": "string o null",
                "tipo_identificacion": "string o null",
                "monto": "number o null",
                "expediente": "string o null",
                "secuencia": "number"
            }
        ]
    }
}`
