/*
Package concurrency provides advanced concurrency primitives with
observability, scoped here to the single primitive the scheduler facade
needs.

Features:
  - SmartMutex: slow-lock logging for the id-to-handle map guard
*/
package concurrency
