// Package rollcall holds the OpenAPI document served under /swagger/.
// Regenerate it with `swag init -g internal/attendance/http/router.go -o api/rollcall`.
package rollcall

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "AussieBroadWAN Team",
            "url": "https://github.com/aussiebroadwan/rollcall"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/attendance/generate-qr/": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Attendance"],
                "summary": "Generate Attendance QR",
                "parameters": [
                    {"description": "Session to issue for", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/attendsdk.GenerateQRRequest"}}
                ],
                "responses": {
                    "200": {"description": "qr_code, token, expiry, session_info", "schema": {"$ref": "#/definitions/attendsdk.GenerateQRResponse"}},
                    "400": {"description": "success, message", "schema": {"$ref": "#/definitions/attendsdk.ErrorResponse"}},
                    "401": {"description": "success, message", "schema": {"$ref": "#/definitions/attendsdk.ErrorResponse"}},
                    "403": {"description": "success, message", "schema": {"$ref": "#/definitions/attendsdk.ErrorResponse"}}
                }
            }
        },
        "/attendance/validate-qr/": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Attendance"],
                "summary": "Validate Attendance QR",
                "parameters": [
                    {"description": "Scanned token", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/attendsdk.ValidateQRRequest"}}
                ],
                "responses": {
                    "200": {"description": "attendance_id, check_in_time, is_late", "schema": {"$ref": "#/definitions/attendsdk.ValidateQRResponse"}},
                    "400": {"description": "invalid, revoked or expired token", "schema": {"$ref": "#/definitions/attendsdk.ErrorResponse"}},
                    "403": {"description": "checking in someone else", "schema": {"$ref": "#/definitions/attendsdk.ErrorResponse"}},
                    "409": {"description": "already checked in", "schema": {"$ref": "#/definitions/attendsdk.ErrorResponse"}}
                }
            }
        },
        "/attendance/qr-status/{session_id}/": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Attendance"],
                "summary": "Attendance QR Status",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "session_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "qr_status, session_info", "schema": {"$ref": "#/definitions/attendsdk.QRStatusResponse"}},
                    "404": {"description": "unknown session", "schema": {"$ref": "#/definitions/attendsdk.ErrorResponse"}}
                }
            }
        },
        "/attendance/revoke-qr/{session_id}/": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Attendance"],
                "summary": "Revoke Attendance QR",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "session_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "success, message", "schema": {"$ref": "#/definitions/attendsdk.RevokeQRResponse"}},
                    "404": {"description": "unknown session", "schema": {"$ref": "#/definitions/attendsdk.ErrorResponse"}}
                }
            }
        },
        "/attendance/sessions/{session_id}/attendance/": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Attendance"],
                "summary": "List Attendance",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "session_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "session_info, attendance", "schema": {"$ref": "#/definitions/attendsdk.AttendanceListResponse"}},
                    "404": {"description": "unknown session", "schema": {"$ref": "#/definitions/attendsdk.ErrorResponse"}}
                }
            }
        },
        "/livez": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Health Check Endpoint",
                "responses": {
                    "200": {"description": "status, uptime, version", "schema": {"$ref": "#/definitions/attendsdk.HealthResponse"}}
                }
            }
        },
        "/readyz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Readiness Check Endpoint",
                "responses": {
                    "200": {"description": "status, uptime, version, checks", "schema": {"$ref": "#/definitions/attendsdk.HealthResponse"}},
                    "503": {"description": "service not ready", "schema": {"$ref": "#/definitions/attendsdk.HealthResponse"}}
                }
            }
        }
    },
    "definitions": {
        "attendsdk.ErrorResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "code": {"type": "string"}
            }
        },
        "attendsdk.SessionInfo": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "started_at": {"type": "string"}
            }
        },
        "attendsdk.GenerateQRRequest": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"},
                "session_name": {"type": "string"}
            }
        },
        "attendsdk.GenerateQRResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "qr_code": {"type": "string"},
                "token": {"type": "string"},
                "session_id": {"type": "string"},
                "expires_in_minutes": {"type": "number"},
                "session_info": {"$ref": "#/definitions/attendsdk.SessionInfo"},
                "qr_data": {"type": "string"},
                "expires_at": {"type": "string"}
            }
        },
        "attendsdk.ValidateQRRequest": {
            "type": "object",
            "properties": {
                "qr_token": {"type": "string"},
                "student_id": {"type": "string"}
            }
        },
        "attendsdk.ValidateQRResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "attendance_id": {"type": "string"},
                "session_info": {"$ref": "#/definitions/attendsdk.SessionInfo"},
                "check_in_time": {"type": "string"},
                "is_late": {"type": "boolean"}
            }
        },
        "attendsdk.QRStatus": {
            "type": "object",
            "properties": {
                "active": {"type": "boolean"},
                "generated_at": {"type": "string"},
                "expires_at": {"type": "string"},
                "remaining_seconds": {"type": "integer"}
            }
        },
        "attendsdk.QRStatusResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "qr_status": {"$ref": "#/definitions/attendsdk.QRStatus"},
                "session_info": {"$ref": "#/definitions/attendsdk.SessionInfo"}
            }
        },
        "attendsdk.RevokeQRResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"}
            }
        },
        "attendsdk.AttendanceRecord": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "student_id": {"type": "string"},
                "check_in_time": {"type": "string"},
                "is_late": {"type": "boolean"}
            }
        },
        "attendsdk.AttendanceListResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "session_info": {"$ref": "#/definitions/attendsdk.SessionInfo"},
                "count": {"type": "integer"},
                "attendance": {"type": "array", "items": {"$ref": "#/definitions/attendsdk.AttendanceRecord"}}
            }
        },
        "attendsdk.HealthChecks": {
            "type": "object",
            "properties": {
                "database": {"type": "string"},
                "signer": {"type": "string"}
            }
        },
        "attendsdk.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "uptime": {"type": "string"},
                "version": {"type": "string"},
                "checks": {"$ref": "#/definitions/attendsdk.HealthChecks"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "JWT access token. Format: \"Bearer {token}\".",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Rollcall Attendance API",
	Description:      "QR attendance check-in service. Session managers issue short-lived QR codes, students scan them to check in, and both receive live updates over WebSocket.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
