package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/joonhokim/buscall/internal/core/domain"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	stopType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Stop",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: graphql.String},
			"name":      &graphql.Field{Type: graphql.String},
			"location":  &graphql.Field{Type: geoPointType},
			"route_ids": &graphql.Field{Type: graphql.NewList(graphql.String)},
			"region_id": &graphql.Field{Type: graphql.String},
		},
	})

	routeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Route",
		Fields: graphql.Fields{
			"id":    &graphql.Field{Type: graphql.String},
			"name":  &graphql.Field{Type: graphql.String},
			"color": &graphql.Field{Type: graphql.String},
		},
	})

	callType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Call",
		Fields: graphql.Fields{
			"id":         &graphql.Field{Type: graphql.String},
			"stop_id":    &graphql.Field{Type: graphql.String},
			"route_id":   &graphql.Field{Type: graphql.String},
			"route_name": &graphql.Field{Type: graphql.String},
			"active":     &graphql.Field{Type: graphql.Boolean},
			"passengers": &graphql.Field{Type: graphql.Int},
		},
	})

	busType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Bus",
		Fields: graphql.Fields{
			"bus_id":    &graphql.Field{Type: graphql.String},
			"route_id":  &graphql.Field{Type: graphql.String},
			"location":  &graphql.Field{Type: geoPointType},
			"speed_kmh": &graphql.Field{Type: graphql.Float},
			"heading":   &graphql.Field{Type: graphql.Float},
		},
	})

	etaType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ETA",
		Fields: graphql.Fields{
			"bus_id":          &graphql.Field{Type: graphql.String},
			"stop_id":         &graphql.Field{Type: graphql.String},
			"route_id":        &graphql.Field{Type: graphql.String},
			"distance_meters": &graphql.Field{Type: graphql.Int},
			"arrival_time":    &graphql.Field{Type: graphql.String},
			"confidence":      &graphql.Field{Type: graphql.Float},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"stops": &graphql.Field{
				Type:        graphql.NewList(stopType),
				Description: "List the full stop catalogue",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Stops.ListAll(p.Context)
				},
			},
			"stop": &graphql.Field{
				Type:        stopType,
				Description: "Get a stop by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					return deps.Stops.GetByID(p.Context, id)
				},
			},
			"routes": &graphql.Field{
				Type:        graphql.NewList(routeType),
				Description: "List all routes",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Routes.ListAll(p.Context)
				},
			},
			"route": &graphql.Field{
				Type:        routeType,
				Description: "Get a route by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					return deps.Routes.GetByID(p.Context, id)
				},
			},
			"activeCalls": &graphql.Field{
				Type:        graphql.NewList(callType),
				Description: "Active calls, optionally scoped to one stop",
				Args: graphql.FieldConfigArgument{
					"stop_id": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if stopID, ok := p.Args["stop_id"].(string); ok && stopID != "" {
						return deps.Calls.ActiveForStop(p.Context, stopID)
					}
					return deps.Calls.ListActive(p.Context)
				},
			},
			"buses": &graphql.Field{
				Type:        graphql.NewList(busType),
				Description: "Live bus positions, optionally filtered by route",
				Args: graphql.FieldConfigArgument{
					"route_id": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					all, err := deps.Buses.ListActive(p.Context)
					if err != nil {
						return nil, err
					}
					routeID, _ := p.Args["route_id"].(string)
					if routeID == "" {
						return all, nil
					}
					var filtered []domain.BusPosition
					for _, b := range all {
						if b.RouteID == routeID {
							filtered = append(filtered, b)
						}
					}
					return filtered, nil
				},
			},
			"eta": &graphql.Field{
				Type:        etaType,
				Description: "Latest arrival estimate for a (bus, stop) pair",
				Args: graphql.FieldConfigArgument{
					"bus_id":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"stop_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					busID := p.Args["bus_id"].(string)
					stopID := p.Args["stop_id"].(string)
					return deps.ETAs.Get(p.Context, busID, stopID)
				},
			},
			"regions": &graphql.Field{
				Type: graphql.NewList(graphql.NewObject(graphql.ObjectConfig{
					Name: "Region",
					Fields: graphql.Fields{
						"id":            &graphql.Field{Type: graphql.String},
						"center":        &graphql.Field{Type: geoPointType},
						"radius_meters": &graphql.Field{Type: graphql.Float},
					},
				})),
				Description: "Static region partition of the stop catalogue",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if deps.Index == nil {
						return nil, nil
					}
					return deps.Index.Regions(), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.Context(),
		})

		return c.JSON(result)
	}
}
