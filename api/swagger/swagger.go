package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "University Appeal API",
        "description": "Academic appeal management: filing, professor decisions, edit windows and notifications",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login and session management"},
        {"name": "Appeals", "description": "Appeal lifecycle"},
        {"name": "Notifications", "description": "Per-user notification feed"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Refresh access token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Revoke refresh token",
                "responses": {
                    "204": {"description": "Logged out"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Current user profile",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appeals": {
            "get": {
                "tags": ["Appeals"],
                "summary": "List appeals visible to the caller",
                "parameters": [
                    {"name": "state", "in": "query", "type": "string", "description": "Comma separated states"},
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Appeals"],
                "summary": "File a new appeal",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "type", "in": "formData", "type": "string", "required": true, "enum": ["EVALUATION", "ABSENCE", "EMERGENCY"]},
                    {"name": "professorEmail", "in": "formData", "type": "string", "required": true},
                    {"name": "message", "in": "formData", "type": "string", "required": true},
                    {"name": "attachment", "in": "formData", "type": "file"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appeals/{id}": {
            "get": {
                "tags": ["Appeals"],
                "summary": "Fetch an appeal",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            },
            "patch": {
                "tags": ["Appeals"],
                "summary": "Edit an appeal while the edit window is open",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "message", "in": "formData", "type": "string"},
                    {"name": "professorEmail", "in": "formData", "type": "string"},
                    {"name": "removeAttachment", "in": "formData", "type": "boolean"},
                    {"name": "attachment", "in": "formData", "type": "file"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Edit window closed"},
                    "409": {"description": "Appeal already resolved"}
                }
            },
            "delete": {
                "tags": ["Appeals"],
                "summary": "Delete a pending appeal",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "409": {"description": "Appeal is no longer pending"}
                }
            }
        },
        "/appeals/{id}/transition": {
            "post": {
                "tags": ["Appeals"],
                "summary": "Apply a professor decision",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TransitionAppealRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Appeal already resolved"},
                    "422": {"description": "Transition not allowed"}
                }
            }
        },
        "/appeals/{id}/attachment": {
            "get": {
                "tags": ["Appeals"],
                "summary": "Stream the appeal attachment",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Attachment bytes"},
                    "404": {"description": "No attachment"}
                }
            }
        },
        "/appeals/{id}/attachment/link": {
            "get": {
                "tags": ["Appeals"],
                "summary": "Issue a short-lived signed download link",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appeals/export": {
            "get": {
                "tags": ["Appeals"],
                "summary": "Export appeals as CSV or PDF",
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "required": true, "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "Rendered export"}
                }
            }
        },
        "/notifications": {
            "get": {
                "tags": ["Notifications"],
                "summary": "List notifications for the current user",
                "parameters": [
                    {"name": "unread", "in": "query", "type": "boolean"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/notifications/{id}/read": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Mark a notification as read",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "204": {"description": "Marked"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "TransitionAppealRequest": {
            "type": "object",
            "properties": {
                "state": {"type": "string", "enum": ["REVISED", "CITED", "ACCEPTED", "REJECTED"]},
                "professorResponse": {"type": "string"},
                "citationDate": {"type": "string", "format": "date-time"}
            },
            "required": ["state"]
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
                "pagination": {"type": "object"},
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
