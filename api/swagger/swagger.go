package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Course Enrollment API",
        "description": "Enrollment lifecycle and capacity management for course tracks",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Admin authentication"},
        {"name": "Enrollments", "description": "Enrollment lifecycle"},
        {"name": "Students", "description": "Student directory, eligibility and priority list"},
        {"name": "Classes", "description": "Class directory and roster exports"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/enrollments": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List enrollments",
                "responses": {
                    "200": {"description": "OK"}
                }
            },
            "post": {
                "tags": ["Enrollments"],
                "summary": "Register student in a class",
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "Capacity or uniqueness conflict"}
                }
            }
        },
        "/enrollments/{id}": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "Get enrollment",
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not found"}
                }
            },
            "delete": {
                "tags": ["Enrollments"],
                "summary": "Cancel enrollment",
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Enrollment not active"}
                }
            }
        },
        "/enrollments/{id}/transfer": {
            "put": {
                "tags": ["Enrollments"],
                "summary": "Transfer to another class in the same track",
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Capacity conflict"}
                }
            }
        },
        "/enrollments/{id}/change-track": {
            "put": {
                "tags": ["Enrollments"],
                "summary": "Move to a class in a different track",
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Capacity conflict"}
                }
            }
        },
        "/enrollments/{id}/complete": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Mark enrollment completed",
                "responses": {
                    "200": {"description": "OK"},
                    "422": {"description": "Invalid transition"}
                }
            }
        },
        "/students": {
            "get": {
                "tags": ["Students"],
                "summary": "List students",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/students/{id}": {
            "get": {
                "tags": ["Students"],
                "summary": "Get student",
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/students/{id}/eligibility": {
            "get": {
                "tags": ["Students"],
                "summary": "Check enrollment eligibility",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/students/{id}/priority-list": {
            "post": {
                "tags": ["Students"],
                "summary": "Add student to the priority list",
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Student already enrolled"}
                }
            },
            "delete": {
                "tags": ["Students"],
                "summary": "Remove student from the priority list",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/classes": {
            "get": {
                "tags": ["Classes"],
                "summary": "List classes",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/classes/{id}": {
            "get": {
                "tags": ["Classes"],
                "summary": "Get class",
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/classes/{id}/roster/export": {
            "get": {
                "tags": ["Classes"],
                "summary": "Export class roster as CSV or PDF",
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not found"}
                }
            }
        }
    },
    "definitions": {
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
                "pagination": {"$ref": "#/definitions/Pagination"},
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
