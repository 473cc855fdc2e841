package flow

// WelcomeText answers /start.
const WelcomeText = `🙏 Namaste! Welcome to CivicPipe, your AI Legal Assistant 🏛️

*What I Can Help With:*
📚 Legal Information & Advice
📝 Complaint/FIR Filing
📄 RTI Application Filing
🚗 Traffic Violation Reporting

*Quick Commands:*
/help - All commands
/complaint - File complaint/FIR
/rti - File RTI application
/traffic - Report traffic violation

💬 Ask me anything legal!`

// HelpText answers /help and stands in for the assistant when none is configured.
const HelpText = `🔍 *CivicPipe - Help*

*Commands:*
/start - Start the bot
/help - Show this help
/complaint - File complaint/FIR
/rti - File RTI application
/traffic - Report traffic violation
/cancel - Cancel operation

*Features:*
✅ Phone-verified applications
✅ Complaint/FIR filing with PDF
✅ RTI application with PDF
✅ Traffic violation reporting (with photo)
✅ Applicable law sections

*How to Use:*
• Type your legal question
• Use commands for specific actions
• Type 'cancel' at any question to stop

*Emergency:*
🚨 Police: 100
🆘 Emergency: 112
👮 Women Helpline: 181
👶 Child Helpline: 1098`
