package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	IO              Category = "IO"
	Internal        Category = "Internal"
	WebSocket       Category = "WebSocket"
	RoomBroker      Category = "RoomBroker"
	RabbitMQ        Category = "RabbitMQ"
	Mongo           Category = "Mongo"
	Validation      Category = "Validation"
	RequestResponse Category = "RequestResponse"
	Prometheus      Category = "Prometheus"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	RateLimiting    SubCategory = "RateLimiting"
	ExternalService SubCategory = "ExternalService"

	// WebSocket / RoomBroker
	Admission  SubCategory = "Admission"
	Dispatch   SubCategory = "Dispatch"
	Broadcast  SubCategory = "Broadcast"
	Membership SubCategory = "Membership"
	EventBus   SubCategory = "EventBus"
)

const (
	AppName      ExtraKey = "AppName"
	LoggerName   ExtraKey = "Logger"
	ClientIp     ExtraKey = "ClientIp"
	Method       ExtraKey = "Method"
	StatusCode   ExtraKey = "StatusCode"
	Path         ExtraKey = "Path"
	Latency      ExtraKey = "Latency"
	ErrorMessage ExtraKey = "ErrorMessage"
	RoomKey      ExtraKey = "RoomKey"
	ConnectionID ExtraKey = "ConnectionID"
	InstanceID   ExtraKey = "InstanceID"
	AgentID      ExtraKey = "AgentID"
	WidgetID     ExtraKey = "WidgetID"
)
