// Command searchbase is an operator tool for a searchbase Redis: raw
// key-value access, index queries and a Prometheus endpoint.
package main

func main() {
	Execute()
}
