// Package docs registers the gateway's swagger spec for serving under
// /swagger/.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/register": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Register an owner account and receive an API key",
                "parameters": [
                    {
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "type": "object",
                            "properties": {
                                "username": {"type": "string"},
                                "password": {"type": "string"}
                            }
                        }
                    }
                ],
                "responses": {
                    "200": {"description": "apiKey issued"},
                    "400": {"description": "invalid input"},
                    "409": {"description": "username taken"}
                }
            }
        },
        "/session/create/pair": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Create a session and request a pairing code",
                "parameters": [
                    {
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "type": "object",
                            "properties": {
                                "sessionId": {"type": "string"},
                                "phoneNumber": {"type": "string"}
                            }
                        }
                    }
                ],
                "responses": {
                    "200": {"description": "pairing code issued"},
                    "400": {"description": "invalid input"},
                    "409": {"description": "session already exists"},
                    "429": {"description": "cooling down after a recent disconnect"},
                    "500": {"description": "pairing failed"}
                }
            }
        },
        "/sessions": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "summary": "List the caller's sessions",
                "responses": {
                    "200": {"description": "session list"}
                }
            }
        },
        "/session/{sessionId}": {
            "delete": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "summary": "Terminate a session",
                "parameters": [
                    {
                        "name": "sessionId",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {"description": "session deleted"},
                    "404": {"description": "session not found"}
                }
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {
            "type": "apiKey",
            "name": "X-API-Key",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "chatgate API",
	Description:      "Messaging-protocol session gateway: pairing, session bookkeeping and credential persistence.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
