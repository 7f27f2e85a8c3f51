// Package httpmw holds the HTTP middleware and pipeline stages of the public
// server.
//
// Outer middleware (Chain, Recover, RequestID, ClientIP, WithLogger,
// TraceResponseHeaders, AnnotateHTTPRoute) is plain net/http decoration and
// runs before the pipeline. The stages (ContentSecurityPolicy, AccessLog,
// JSONBody, URLEncodedBody, Cookies, NoSQLSanitize, XSSSanitize,
// ParameterPollution, RequestTime) read and mutate request.State and report
// failures as *apperror.Error values. httpserver.NewHandler fixes their order.
//
// Client-supplied data (query strings, user agents, cookies) is kept out of
// log fields.
package httpmw
