package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Course Proposals API",
        "description": "Confirm-then-ingest review workflow for generated golf course records",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Proposals", "description": "Proposal submission and lifecycle"},
        {"name": "Callbacks", "description": "Reviewer actions"},
        {"name": "Observability", "description": "Health and metrics"}
    ],
    "paths": {
        "/health": {
            "get": {
                "tags": ["Observability"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/metrics": {
            "get": {
                "tags": ["Observability"],
                "summary": "Prometheus metrics",
                "produces": ["text/plain"],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/v1/metrics/summary": {
            "get": {
                "tags": ["Observability"],
                "summary": "Workflow metrics summary",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/v1/proposals": {
            "get": {
                "tags": ["Proposals"],
                "summary": "List pending proposals",
                "description": "Proposals awaiting review that have not expired, newest first.",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Proposals"],
                "summary": "Submit a course proposal",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateProposalRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/v1/proposals/sweep": {
            "post": {
                "tags": ["Proposals"],
                "summary": "Expire stale pending proposals",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/v1/proposals/{id}": {
            "get": {
                "tags": ["Proposals"],
                "summary": "Get a proposal",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/v1/proposals/{id}/delivery-ref": {
            "put": {
                "tags": ["Proposals"],
                "summary": "Record where a proposal was presented",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DeliveryRefRequest"}}
                ],
                "responses": {
                    "204": {"description": "Recorded"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Proposal already resolved", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/v1/callbacks": {
            "post": {
                "tags": ["Callbacks"],
                "summary": "Dispatch a reviewer callback",
                "description": "Runs the action named by the token and returns the delivery instructions. With deliver=true they are also queued for the notification channel.",
                "parameters": [
                    {"name": "deliver", "in": "query", "type": "boolean"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CallbackRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "500": {"description": "Stored proposal is corrupt", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateProposalRequest": {
            "type": "object",
            "required": ["payload"],
            "properties": {
                "payload": {"type": "object"},
                "agentLabel": {"type": "string"},
                "runId": {"type": "string"},
                "present": {"type": "boolean"}
            }
        },
        "CallbackRequest": {
            "type": "object",
            "required": ["token", "actorId"],
            "properties": {
                "token": {"type": "string", "example": "proposal:ingest:RS-20260201-001"},
                "actorId": {"type": "string"},
                "conversationId": {"type": "string"}
            }
        },
        "DeliveryRefRequest": {
            "type": "object",
            "required": ["messageId", "conversationId"],
            "properties": {
                "messageId": {"type": "string"},
                "conversationId": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
