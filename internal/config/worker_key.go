package config

type WorkerKeyStruct struct {
	PersistSecurityEventsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistSecurityEventsQueue: "security_events_queue",
}
