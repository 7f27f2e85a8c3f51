// Package routes holds the routers mounted behind the request pipeline.
//
// The API resources are reflective: they echo what the pipeline left in
// request.State so the parsing and sanitizing stages can be observed end to
// end. Handlers report failures with pipeline.Forward rather than writing
// error responses themselves.
package routes
