// Package scatter implements deadline-bound scatter-gather search.
//
// A Coordinator broadcasts one correlated Request onto a request channel
// and gathers an unknown number of RequestResponseMessage replies from a
// response channel until the deadline. Live pipeline steps run on each
// reply as it arrives; final steps run once over the gathered set.
//
// A Responder is the provider side: it reads requests from the tail of
// the request channel, runs a handler for each and publishes every item
// the handler emits to the reply address the request names.
package scatter
