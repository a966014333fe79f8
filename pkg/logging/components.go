package logging

// Component-specific loggers

// Provision logger for resource provisioning stages
var Provision = NewLogger("provision")

// Submit logger for the submission controller
var Submit = NewLogger("submit")

// Trigger logger for the lifecycle trigger
var Trigger = NewLogger("trigger")

// Staging logger for staging area and parameter operations
var Staging = NewLogger("staging")

// Store logger for trigger state persistence
var Store = NewLogger("store")

// Server logger for the HTTP intake
var Server = NewLogger("server")

// Config logger for configuration loading
var Config = NewLogger("config")
