package main

// General API documentation for swaggo. Regenerate docs/ with
// `swag init -g cmd/clinicd/docs.go -o docs`.
//
// @title           clinicd API
// @version         1.0
// @description     Clinical text analysis: pathology classification, case summarization and treatment recommendations.
//
// @contact.name   clinicd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Bearer access token from POST /api/v1/auth/token
