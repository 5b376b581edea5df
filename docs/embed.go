package docs

import _ "embed"

//go:embed mailer-api.openapi.yaml
var embeddedMailerOpenAPI []byte

//go:embed swagger.html
var embeddedMailerSwaggerHTML []byte

// MailerOpenAPI holds the mailer-api OpenAPI specification.
var MailerOpenAPI = embeddedMailerOpenAPI

// MailerSwaggerHTML holds the Swagger UI page.
var MailerSwaggerHTML = embeddedMailerSwaggerHTML
