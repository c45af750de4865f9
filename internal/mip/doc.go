// Package mip holds the types shared by the MIP protocol engine.
//
// The engine is split into leaf packages:
//
//	serializer  bounds-checked big-endian encoder/decoder
//	packet      frame validation, field iteration and frame building
//	cmdqueue    pending commands and the reply-matching queue
//	dispatch    packet and field callback registry
//	device      the poll loop tying a transport to the pieces above
//
// Everything in the engine is single-threaded and poll driven. Nothing blocks
// except Device.RunCommand, which polls until its command settles.
package mip
