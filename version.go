package pubsub

// Version is the library version, set at release time.
const Version = "1.2.0"
