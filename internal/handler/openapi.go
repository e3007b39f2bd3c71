package handler

import (
	"net/http"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

// OpenAPIHandler serves the API description document. The document is built
// once at startup; the surface is static.
type OpenAPIHandler struct {
	doc *openapi3.T
}

// NewOpenAPIHandler creates an OpenAPIHandler with the document prebuilt.
func NewOpenAPIHandler(version string) *OpenAPIHandler {
	return &OpenAPIHandler{doc: buildDocument(version)}
}

// ServeSpec returns the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.doc)
}

func buildDocument(version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Keygate API",
			Description: "License activation and device binding service",
			Version:     version,
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			SecuritySchemes: openapi3.SecuritySchemes{
				"bearer": &openapi3.SecuritySchemeRef{
					Value: openapi3.NewJWTSecurityScheme(),
				},
			},
		},
	}

	doc.Paths.Set("/api/v1/check", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "checkLicense",
			Summary:     "Validate a license key for a device",
			Description: "Returns the decision as a signed JWT. Policy failures (unknown key, blocked, expired, device limit) are HTTP 200 with the outcome inside the signed envelope.",
			RequestBody: jsonBody(openapi3.NewObjectSchema().
				WithProperty("license_key", openapi3.NewStringSchema()).
				WithProperty("device_fingerprint", openapi3.NewStringSchema()).
				WithProperty("package_name", openapi3.NewStringSchema()).
				WithProperty("version", openapi3.NewStringSchema()).
				WithRequired([]string{"license_key", "device_fingerprint", "package_name"})),
			Responses: jsonResponses(map[int]string{
				200: "Signed verdict token",
				400: "Validation failure",
				500: "Server error",
			}),
		},
	})

	doc.Paths.Set("/api/v1/auth/login", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "login",
			Summary:     "Operator login",
			RequestBody: jsonBody(openapi3.NewObjectSchema().
				WithProperty("username", openapi3.NewStringSchema()).
				WithProperty("password", openapi3.NewStringSchema()).
				WithRequired([]string{"username", "password"})),
			Responses: jsonResponses(map[int]string{
				200: "Session token and operator profile",
				401: "Invalid credentials",
				403: "Account disabled",
			}),
		},
	})

	doc.Paths.Set("/api/v1/auth/profile", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "profile",
			Summary:     "Authenticated operator profile",
			Security:    bearerSecurity(),
			Responses:   jsonResponses(map[int]string{200: "Operator account"}),
		},
	})

	doc.Paths.Set("/api/v1/auth/admins", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listAdmins",
			Summary:     "List admin accounts (owner only)",
			Security:    bearerSecurity(),
			Responses:   jsonResponses(map[int]string{200: "Admin accounts"}),
		},
		Post: &openapi3.Operation{
			OperationID: "createAdmin",
			Summary:     "Create an admin account (owner only)",
			Security:    bearerSecurity(),
			Responses:   jsonResponses(map[int]string{201: "Created admin", 409: "Username taken"}),
		},
	})

	doc.Paths.Set("/api/v1/licenses", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listLicenses",
			Summary:     "List licenses",
			Security:    bearerSecurity(),
			Responses:   jsonResponses(map[int]string{200: "Licenses"}),
		},
		Post: &openapi3.Operation{
			OperationID: "createLicense",
			Summary:     "Issue a license with a generated key",
			Security:    bearerSecurity(),
			Responses:   jsonResponses(map[int]string{201: "Created license"}),
		},
	})

	doc.Paths.Set("/api/v1/devices", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listDevices",
			Summary:     "List all device bindings",
			Security:    bearerSecurity(),
			Responses:   jsonResponses(map[int]string{200: "Device bindings"}),
		},
	})

	return doc
}

func jsonBody(schema *openapi3.Schema) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().
			WithRequired(true).
			WithJSONSchema(schema),
	}
}

func jsonResponses(statuses map[int]string) *openapi3.Responses {
	responses := openapi3.NewResponses()
	for code, desc := range statuses {
		d := desc
		responses.Set(strconv.Itoa(code), &openapi3.ResponseRef{
			Value: openapi3.NewResponse().WithDescription(d),
		})
	}
	return responses
}

func bearerSecurity() *openapi3.SecurityRequirements {
	reqs := openapi3.NewSecurityRequirements()
	reqs.With(openapi3.NewSecurityRequirement().Authenticate("bearer"))
	return reqs
}
