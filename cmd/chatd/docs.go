package main

// General API documentation for swaggo; the OpenAPI document is served under
// /swagger/ when built with -tags=swagger.
//
// @title           chatd local API
// @version         1.0
// @description     OpenAI-compatible chat completions against the model loaded in chatd.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
