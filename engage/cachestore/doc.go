// Durable key/value state for the schedulers: high-water marks, last post time, the shutdown
// marker and the recent-post dedup list.
//
// Includes an interface and implementations using redis and in-process memory. Values are strings;
// helpers encode timestamps and JSON.
package cachestore
