package main

// Build the HTTP Lambda binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"servicesift-backend/internal/bootstrap"
	"servicesift-backend/internal/shared/config"
	"servicesift-backend/internal/shared/telemetry"
)

var (
	initOnce sync.Once
	initErr  error
	proxy    *ginadapter.GinLambdaV2
)

func initApp(ctx context.Context) {
	cfg := config.Load()
	if err := telemetry.Init(telemetry.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		initErr = err
		return
	}
	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		initErr = err
		return
	}
	proxy = ginadapter.NewV2(app.Router)
	telemetry.Info("lambda_http.ready", map[string]any{"env": cfg.Env})
}

func errorResponse(status int, code, msg string) events.APIGatewayV2HTTPResponse {
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       `{"error":"` + msg + `","code":"` + code + `"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// withGatewayRequestID copies the API Gateway request id into X-Request-Id
// when the caller did not send one.
func withGatewayRequestID(req events.APIGatewayV2HTTPRequest) events.APIGatewayV2HTTPRequest {
	if req.RequestContext.RequestID == "" {
		return req
	}
	for k := range req.Headers {
		if strings.EqualFold(k, "x-request-id") {
			return req
		}
	}
	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers["x-request-id"] = req.RequestContext.RequestID
	req.Headers = headers
	return req
}

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	initOnce.Do(func() { initApp(context.WithoutCancel(ctx)) })
	if initErr != nil {
		telemetry.Error("lambda_http.bootstrap_failed", map[string]any{"error": initErr.Error()})
		return errorResponse(http.StatusInternalServerError, "CONFIG_ERROR", "bootstrap failed"), nil
	}
	if proxy == nil {
		return errorResponse(http.StatusInternalServerError, "INTERNAL_ERROR", "router not initialized"), nil
	}
	return proxy.ProxyWithContext(ctx, withGatewayRequestID(req))
}

func main() {
	lambda.Start(handler)
}
