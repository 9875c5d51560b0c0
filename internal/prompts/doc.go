// Package prompts holds the text Ponder sends to models and the fixed
// strings it writes into conversations.
//
// Prompt text is Go code rather than config because the loop depends on
// it: the system prompt teaches the THINK:/ACT: convention the parser
// expects, and the message prefixes mark which assistant turns are trace
// and which is the answer. config.yaml may replace the system template;
// the prefixes are not configurable.
package prompts
