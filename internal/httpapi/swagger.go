//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// swaggerDoc is kept by hand; the surface is four routes.
const swaggerDoc = `{
  "swagger": "2.0",
  "info": {
    "title": "{{.Title}}",
    "description": "{{escape .Description}}",
    "version": "{{.Version}}"
  },
  "basePath": "{{.BasePath}}",
  "schemes": {{ marshal .Schemes }},
  "paths": {
    "/v1/chat/completions": {
      "post": {
        "tags": ["chat"],
        "summary": "Create a chat completion",
        "consumes": ["application/json"],
        "produces": ["application/json", "text/event-stream"],
        "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"type": "object"}}],
        "responses": {
          "200": {"description": "completion, or SSE chunks ending in [DONE]"},
          "400": {"description": "invalid request", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "409": {"description": "model not loaded", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "429": {"description": "busy", "schema": {"$ref": "#/definitions/ErrorResponse"}}
        }
      }
    },
    "/v1/models": {
      "get": {"tags": ["models"], "summary": "List downloaded models", "produces": ["application/json"], "responses": {"200": {"description": "model list"}}}
    },
    "/healthz": {
      "get": {"tags": ["health"], "summary": "Liveness", "responses": {"200": {"description": "ok"}}}
    },
    "/readyz": {
      "get": {"tags": ["health"], "summary": "Readiness", "responses": {"200": {"description": "ready"}, "503": {"description": "no model loaded"}}}
    }
  },
  "definitions": {
    "ErrorResponse": {
      "type": "object",
      "properties": {
        "error": {"type": "string", "example": "model not loaded"},
        "code": {"type": "integer", "example": 409}
      }
    }
  }
}`

// SwaggerInfo holds the exported API metadata.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "chatd local API",
	Description:      "OpenAI-compatible chat completions served from the loaded model.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  swaggerDoc,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
