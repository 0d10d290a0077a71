package s3

import "go.uber.org/fx"

// FXModule provides *Client. The SDK holds no long-lived connections, so
// there is no lifecycle hook.
var FXModule = fx.Module("s3",
	fx.Provide(NewClient),
)
