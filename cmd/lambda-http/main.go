package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"docchat-backend/internal/bootstrap"
	"docchat-backend/internal/shared/config"
	"docchat-backend/internal/shared/server/respond"
	"docchat-backend/internal/shared/telemetry"
)

type proxyHandler func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error)

// newHandler builds the app on the first invocation and reuses it for the
// life of the container. A failed build is retried on the next invocation.
func newHandler(build func(ctx context.Context) (*bootstrap.App, error)) proxyHandler {
	var (
		mu      sync.Mutex
		adapter *ginadapter.GinLambdaV2
	)
	return func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		mu.Lock()
		if adapter == nil {
			app, err := build(ctx)
			if err != nil {
				mu.Unlock()
				telemetry.Error("lambda.bootstrap_failed", map[string]any{
					"error":      err.Error(),
					"request_id": req.RequestContext.RequestID,
				})
				return errorResponse(http.StatusServiceUnavailable, respond.CodeUnavailable, "service is starting, retry shortly"), nil
			}
			adapter = ginadapter.NewV2(app.Router)
		}
		a := adapter
		mu.Unlock()
		return a.ProxyWithContext(ctx, req)
	}
}

func errorResponse(status int, code, message string) events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(respond.ErrorResponse{Error: respond.ErrorBody{Code: code, Message: message}})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json", "Retry-After": "1"},
	}
}

func main() {
	lambda.Start(newHandler(func(ctx context.Context) (*bootstrap.App, error) {
		return bootstrap.BuildContext(ctx, config.Load())
	}))
}
