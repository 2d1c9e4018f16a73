// Package docs provides generated OpenAPI documentation.
//
// Fable API
//
//	@title			Fable API
//	@version		1.0
//	@description	Personalized book rendering API for managing book templates, render jobs, and assembled artifacts.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/fableforge/fable
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/fable/serve.go -o ./swagger --parseDependency --parseInternal
