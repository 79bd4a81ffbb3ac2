// Package alarm implements the gRPC transport of the alarm stream.
//
// The service alarmstream.v1.AlarmStream is declared by hand on top of the
// protobuf well-known types, so clients need no generated stubs:
//
//	rpc Subscribe(google.protobuf.Struct) returns (stream google.protobuf.Struct);
//	rpc List(google.protobuf.Empty) returns (google.protobuf.ListValue);
//
// The Subscribe request carries {"groups": [...]}; each streamed Struct is one
// alarm payload in the same shape as the HTTP stream.
package alarm
