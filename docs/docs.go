// Package docs registers the swagger document served under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "description": "Engine health and job manager counters",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Service health",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.HealthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/api.HealthResponse"}}
                }
            }
        },
        "/integrations/{id}/sync": {
            "post": {
                "description": "Queue a sync job for an integration",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["sync"],
                "summary": "Trigger a manual sync",
                "parameters": [
                    {"type": "string", "description": "Organization ID", "name": "X-Organization-ID", "in": "header", "required": true},
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header"},
                    {"type": "string", "description": "Integration ID", "name": "id", "in": "path", "required": true},
                    {"description": "Sync request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.TriggerSyncRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/api.JobCreatedResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/jobs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "List sync jobs",
                "parameters": [
                    {"type": "string", "description": "Organization ID", "name": "X-Organization-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Job status", "name": "status", "in": "query"},
                    {"type": "string", "description": "Integration ID", "name": "integration_id", "in": "query"},
                    {"type": "integer", "default": 50, "description": "Maximum number of jobs", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.JobListResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get a sync job",
                "parameters": [
                    {"type": "string", "description": "Organization ID", "name": "X-Organization-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.SyncJob"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/retry": {
            "post": {
                "description": "Create a single-attempt job from a finished job's configuration",
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Retry a finished job",
                "parameters": [
                    {"type": "string", "description": "Organization ID", "name": "X-Organization-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/api.JobCreatedResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/cancel": {
            "post": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Cancel a job",
                "parameters": [
                    {"type": "string", "description": "Organization ID", "name": "X-Organization-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StatusResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/conflicts": {
            "get": {
                "produces": ["application/json"],
                "tags": ["conflicts"],
                "summary": "List conflicts detected by a job",
                "parameters": [
                    {"type": "string", "description": "Organization ID", "name": "X-Organization-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/models.SyncConflict"}}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/conflicts/{id}/resolve": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["conflicts"],
                "summary": "Resolve a conflict manually",
                "parameters": [
                    {"type": "string", "description": "Organization ID", "name": "X-Organization-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Conflict ID", "name": "id", "in": "path", "required": true},
                    {"description": "Resolution", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.ResolveConflictRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.SyncConflict"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.TriggerSyncRequest": {
            "type": "object",
            "required": ["entity_types"],
            "properties": {
                "entity_types": {"type": "array", "items": {"type": "string"}, "example": ["products", "orders"]},
                "sync_mode": {"type": "string", "example": "incremental"},
                "batch_size": {"type": "integer", "example": 100},
                "priority": {"type": "string", "example": "normal"},
                "conflict_strategy": {"type": "string", "example": "source_wins"}
            }
        },
        "api.JobCreatedResponse": {
            "type": "object",
            "properties": {
                "job_id": {"type": "string"},
                "status": {"type": "string", "example": "pending"}
            }
        },
        "api.JobListResponse": {
            "type": "object",
            "properties": {
                "jobs": {"type": "array", "items": {"$ref": "#/definitions/models.SyncJob"}},
                "total": {"type": "integer"}
            }
        },
        "api.ResolveConflictRequest": {
            "type": "object",
            "required": ["resolved_value"],
            "properties": {
                "resolved_value": {}
            }
        },
        "api.StatusResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "cancelled"}
            }
        },
        "api.HealthResponse": {
            "type": "object",
            "properties": {
                "engine": {"type": "object"},
                "manager": {"type": "object"}
            }
        },
        "api.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "details": {"type": "string"}
            }
        },
        "models.SyncJob": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "organization_id": {"type": "string"},
                "integration_id": {"type": "string"},
                "job_type": {"type": "string"},
                "status": {"type": "string"},
                "config": {"type": "object"},
                "progress": {"type": "object"},
                "result": {"type": "object"},
                "error": {"type": "object"},
                "created_at": {"type": "string"},
                "started_at": {"type": "string"},
                "completed_at": {"type": "string"}
            }
        },
        "models.SyncConflict": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "job_id": {"type": "string"},
                "integration_id": {"type": "string"},
                "entity_type": {"type": "string"},
                "record_id": {"type": "string"},
                "field_name": {"type": "string"},
                "source_value": {},
                "target_value": {},
                "detected_at": {"type": "string"},
                "resolution": {"type": "object"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Commerce Sync API",
	Description:      "Job orchestration for commerce platform synchronization",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
