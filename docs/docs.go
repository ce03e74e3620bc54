// Package docs holds the OpenAPI document served by the swagger build.
// Regenerate with: swag init -g cmd/clinicd/docs.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/analyze": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["analysis"],
                "summary": "Analyze a clinical case",
                "parameters": [{"description": "Clinical text", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.AnalyzeRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.AnalyzeResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "504": {"description": "Gateway Timeout", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/auth/token": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Issue tokens",
                "parameters": [{"description": "Credentials", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.TokenRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.TokenResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/auth/refresh": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Refresh tokens",
                "parameters": [{"description": "Refresh token", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.RefreshRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.TokenResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/health": {
            "get": {"produces": ["application/json"], "tags": ["analysis"], "summary": "Model readiness",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthResponse"}}}}
        },
        "/api/v1/get_status": {
            "get": {"produces": ["application/json"], "tags": ["analysis"], "summary": "Execution device",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.DeviceStatusResponse"}}}}
        },
        "/api/v1/labels": {
            "get": {"produces": ["application/json"], "tags": ["analysis"], "summary": "Condition labels",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.LabelsResponse"}}}}
        },
        "/health/ready": {
            "get": {"produces": ["application/json"], "tags": ["health"], "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ReadinessResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ReadinessResponse"}}
                }}
        },
        "/status": {
            "get": {"produces": ["application/json"], "tags": ["health"], "summary": "Model manager status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}}
        }
    },
    "definitions": {
        "types.AnalyzeRequest": {
            "type": "object",
            "properties": {
                "text": {"type": "string"},
                "auto_classify": {"type": "boolean", "example": true},
                "pathology": {"type": "string", "example": "Depression"}
            }
        },
        "types.AnalyzeResponse": {
            "type": "object",
            "properties": {
                "classification": {
                    "type": "object",
                    "properties": {
                        "pathology": {"type": "string"},
                        "confidence": {"type": "number"},
                        "all_probabilities": {"type": "object", "additionalProperties": {"type": "number"}}
                    }
                },
                "summary": {"type": "string"},
                "recommendation": {"type": "string"},
                "metadata": {
                    "type": "object",
                    "properties": {
                        "original_text_length": {"type": "integer"},
                        "summary_length": {"type": "integer"},
                        "recommendation_length": {"type": "integer"},
                        "processing_time": {"type": "number"},
                        "device": {"type": "string"},
                        "mode": {"type": "string"},
                        "generator_fallback": {"type": "boolean"},
                        "low_confidence": {"type": "boolean"}
                    }
                }
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}, "code": {"type": "integer"}, "request_id": {"type": "string"}}
        },
        "types.HealthResponse": {
            "type": "object",
            "properties": {"status": {"type": "string"}, "models_loaded": {"type": "boolean"}}
        },
        "types.DeviceStatusResponse": {
            "type": "object",
            "properties": {"status": {"type": "string"}, "device": {"type": "string"}}
        },
        "types.ReadinessResponse": {
            "type": "object",
            "properties": {"status": {"type": "string"}, "ready": {"type": "boolean"}}
        },
        "types.LabelsResponse": {
            "type": "object",
            "properties": {"labels": {"type": "array", "items": {"type": "object", "properties": {"id": {"type": "integer"}, "name": {"type": "string"}}}}}
        },
        "types.TokenRequest": {
            "type": "object",
            "properties": {"username": {"type": "string"}, "password": {"type": "string"}}
        },
        "types.RefreshRequest": {
            "type": "object",
            "properties": {"refresh_token": {"type": "string"}}
        },
        "types.TokenResponse": {
            "type": "object",
            "properties": {"access_token": {"type": "string"}, "refresh_token": {"type": "string"}, "token_type": {"type": "string"}, "expires_in": {"type": "integer"}}
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string"},
                "device": {"type": "string"},
                "models": {"type": "array", "items": {"type": "object"}},
                "queue_len": {"type": "integer"},
                "inflight": {"type": "integer"},
                "loads_total": {"type": "integer"},
                "reloads_total": {"type": "integer"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "clinicd API",
	Description:      "Clinical text analysis: classification, summarization and treatment recommendations.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
