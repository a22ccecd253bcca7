// Package swagger registers the OpenAPI document served at /swagger/.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/chat": {
            "post": {
                "description": "Generates a reply for the user and remembers the exchange",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "Send a message",
                "parameters": [
                    {"description": "Message", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ChatRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/companion.Result"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/ws/chat": {
            "get": {
                "description": "Upgrades to a websocket; every {\"user_id\",\"message\"} frame is answered with a reply frame",
                "tags": ["chat"],
                "summary": "Chat over a websocket",
                "parameters": [
                    {"type": "string", "description": "Default user for frames without user_id", "name": "user_id", "in": "query"}
                ],
                "responses": {
                    "101": {"description": "Switching Protocols"},
                    "400": {"description": "websocket upgrade required"},
                    "503": {"description": "websocket connection limit reached"}
                }
            }
        },
        "/users/search": {
            "post": {
                "description": "Case-insensitive match on name, likes and dislikes",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Search remembered users",
                "parameters": [
                    {"description": "Query", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SearchRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/companion.SearchResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/users/{userID}": {
            "delete": {
                "description": "Clears the session profile and every stored turn of the user",
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Forget a user",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "userID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.DeleteUserResponse"}}
                }
            }
        },
        "/users/{userID}/export": {
            "get": {
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Export everything remembered about a user",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "userID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/companion.UserExport"}}
                }
            }
        },
        "/users/{userID}/profile": {
            "get": {
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Get a user profile",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "userID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ProfileResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            },
            "patch": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Tell Ella facts about a user",
                "description": "Merges a name, likes and dislikes into the profile. Existing facts are kept.",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "userID", "in": "path", "required": true},
                    {"description": "Facts", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.UpdateProfileRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ProfileResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/system/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Service health and counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SystemHealth"}}
                }
            }
        },
        "/system/analytics": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Usage analytics",
                "parameters": [
                    {"type": "string", "description": "Include metrics for this user", "name": "user_id", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.AnalyticsResponse"}}
                }
            }
        },
        "/system/config": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Change generation settings",
                "parameters": [
                    {"description": "Settings", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ConfigRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ConfigResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/system/batch": {
            "post": {
                "description": "update and refresh reload profiles from stored turns",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Run an operation for many users",
                "parameters": [
                    {"description": "Batch", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.BatchRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.BatchResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/system/reset": {
            "post": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Reset request counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        }
    },
    "definitions": {
        "companion.Result": {
            "type": "object",
            "properties": {
                "response": {"type": "string"},
                "emotion": {"type": "string", "enum": ["happy", "sad", "angry", "neutral"]},
                "cost": {"type": "number"}
            }
        },
        "companion.ExportedTurn": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "message": {"type": "string"},
                "response": {"type": "string"},
                "emotion": {"type": "string"},
                "timestamp": {"type": "string", "format": "date-time"}
            }
        },
        "companion.UserExport": {
            "type": "object",
            "properties": {
                "profile": {"$ref": "#/definitions/memory.UserProfile"},
                "known": {"type": "boolean"},
                "turns": {"type": "array", "items": {"$ref": "#/definitions/companion.ExportedTurn"}}
            }
        },
        "companion.SearchResult": {
            "type": "object",
            "properties": {
                "total": {"type": "integer"},
                "offset": {"type": "integer"},
                "limit": {"type": "integer"},
                "results": {"type": "array", "items": {"$ref": "#/definitions/memory.UserProfile"}}
            }
        },
        "memory.UserProfile": {
            "type": "object",
            "properties": {
                "user_key": {"type": "string"},
                "name": {"type": "string"},
                "likes": {"type": "array", "items": {"type": "string"}},
                "dislikes": {"type": "array", "items": {"type": "string"}}
            }
        },
        "handlers.ChatRequest": {
            "type": "object",
            "required": ["user_id"],
            "properties": {
                "user_id": {"type": "string", "maxLength": 256},
                "message": {"type": "string", "maxLength": 8000}
            }
        },
        "handlers.SearchRequest": {
            "type": "object",
            "required": ["query"],
            "properties": {
                "query": {"type": "string"},
                "limit": {"type": "integer", "maximum": 100},
                "offset": {"type": "integer", "minimum": 0}
            }
        },
        "handlers.UpdateProfileRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "maxLength": 100},
                "likes": {"type": "array", "maxItems": 50, "items": {"type": "string"}},
                "dislikes": {"type": "array", "maxItems": 50, "items": {"type": "string"}}
            }
        },
        "handlers.ProfileResponse": {
            "type": "object",
            "properties": {
                "user_id": {"type": "string"},
                "known": {"type": "boolean"},
                "profile": {"$ref": "#/definitions/memory.UserProfile"}
            }
        },
        "handlers.DeleteUserResponse": {
            "type": "object",
            "properties": {
                "user_id": {"type": "string"},
                "deleted_entries": {"type": "integer"},
                "message": {"type": "string"}
            }
        },
        "handlers.MemoryUsage": {
            "type": "object",
            "properties": {
                "total_users": {"type": "integer"},
                "cached_embeddings": {"type": "integer"},
                "cached_responses": {"type": "integer"},
                "pending_writes": {"type": "integer"}
            }
        },
        "handlers.SystemHealth": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "version": {"type": "string"},
                "model": {"type": "string"},
                "uptime": {"type": "number"},
                "request_count": {"type": "integer"},
                "memory_usage": {"$ref": "#/definitions/handlers.MemoryUsage"}
            }
        },
        "handlers.AnalyticsResponse": {
            "type": "object",
            "properties": {
                "metrics": {
                    "type": "object",
                    "properties": {
                        "total_requests": {"type": "integer"},
                        "total_cost": {"type": "number"},
                        "average_response_time_ms": {"type": "number"},
                        "uptime_seconds": {"type": "number"},
                        "memory_usage": {"$ref": "#/definitions/handlers.MemoryUsage"}
                    }
                },
                "user_metrics": {
                    "type": "object",
                    "properties": {
                        "user_id": {"type": "string"},
                        "known": {"type": "boolean"},
                        "turn_count": {"type": "integer"},
                        "first_seen": {"type": "string", "format": "date-time"},
                        "last_active": {"type": "string", "format": "date-time"},
                        "likes": {"type": "integer"},
                        "dislikes": {"type": "integer"}
                    }
                }
            }
        },
        "handlers.ConfigRequest": {
            "type": "object",
            "properties": {
                "temperature": {"type": "number", "minimum": 0, "maximum": 2},
                "max_tokens": {"type": "integer", "minimum": 1, "maximum": 4096},
                "model_name": {"type": "string"}
            }
        },
        "handlers.ConfigResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "settings": {
                    "type": "object",
                    "properties": {
                        "temperature": {"type": "number"},
                        "max_tokens": {"type": "integer"},
                        "model_name": {"type": "string"}
                    }
                }
            }
        },
        "handlers.BatchRequest": {
            "type": "object",
            "required": ["user_ids", "operation"],
            "properties": {
                "user_ids": {"type": "array", "items": {"type": "string"}, "minItems": 1, "maxItems": 100},
                "operation": {"type": "string", "enum": ["update", "refresh", "delete", "export"]}
            }
        },
        "handlers.BatchResponse": {
            "type": "object",
            "properties": {
                "operation": {"type": "string"},
                "succeeded": {"type": "integer"},
                "failed": {"type": "integer"},
                "results": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "user_id": {"type": "string"},
                            "status": {"type": "string"},
                            "data": {},
                            "error": {"type": "string"}
                        }
                    }
                }
            }
        },
        "response.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "object",
                    "properties": {
                        "code": {"type": "string"},
                        "message": {"type": "string"},
                        "details": {"type": "object"},
                        "request_id": {"type": "string"}
                    }
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Ella API",
	Description:      "Conversational companion that remembers the people it talks to.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
