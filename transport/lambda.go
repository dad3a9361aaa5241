// Package transport adapts handlers to their hosts: AWS Lambda, plain HTTP and the command line.
package transport

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/knights-analytics/hugot-serverless/handlers"
)

var jsonHeaders = map[string]string{"Content-Type": "application/json"}

// LambdaHandler wraps invoker for API Gateway proxy events. Base64 encoded bodies are decoded
// first. Failures are reported in the response envelope, so the returned error is always nil.
func LambdaHandler(name string, invoker handlers.Invoker, strictStatusCodes bool) func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return func(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		body := request.Body
		var response handlers.Response
		if request.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(body)
			if err != nil {
				response = handlers.Failure(handlers.InputError(fmt.Errorf("decoding base64 body: %w", err))).Response(strictStatusCodes)
				return events.APIGatewayProxyResponse{StatusCode: response.StatusCode, Headers: jsonHeaders, Body: response.Body}, nil
			}
			body = string(decoded)
		}
		response = handlers.Handle(ctx, name, invoker, handlers.Event{Body: body}, strictStatusCodes)
		return events.APIGatewayProxyResponse{
			StatusCode: response.StatusCode,
			Headers:    jsonHeaders,
			Body:       response.Body,
		}, nil
	}
}

// StartLambda blocks serving invocations from the lambda runtime.
func StartLambda(name string, invoker handlers.Invoker, strictStatusCodes bool) {
	lambda.Start(LambdaHandler(name, invoker, strictStatusCodes))
}
