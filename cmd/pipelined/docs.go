package main

// General API documentation for swaggo. Run `swag init -g cmd/pipelined/docs.go -o docs` to regenerate.
//
// @title           pipelined API
// @version         1.0
// @description     HTTP API for media pipeline definitions, models, instances and live streams.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
