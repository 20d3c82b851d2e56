package ir

// Version is the replicant release version.
const Version = "0.1.0"
