package httpserver

import "github.com/keithlinneman/tours-web/internal/routes"

// StandardMounts wires the views router at "/" and the three API resources
// under /api/v1.
func StandardMounts(views *routes.Views) []Mount {
	m := []Mount{
		{Pattern: "/api/v1/tours", Register: routes.Tours()},
		{Pattern: "/api/v1/users", Register: routes.Users()},
		{Pattern: "/api/v1/reviews", Register: routes.Reviews()},
	}
	if views != nil {
		m = append([]Mount{{Pattern: "/", Register: views.Register}}, m...)
	}
	return m
}
